package model

type CodeType string

const (
	CodeTypeBarcode CodeType = "barcode"
	CodeTypeQR      CodeType = "qr"
)

// CodeTypeFilter restricts which symbologies the camera decoder looks for.
type CodeTypeFilter string

const (
	CodeTypeFilterBarcode CodeTypeFilter = "barcode"
	CodeTypeFilterQR      CodeTypeFilter = "qr"
	CodeTypeFilterBoth    CodeTypeFilter = "both"
)

var CodeTypeFilterValues = []string{
	string(CodeTypeFilterBarcode),
	string(CodeTypeFilterQR),
	string(CodeTypeFilterBoth),
}

// Formats expands the filter into the code types it admits.
func (f CodeTypeFilter) Formats() []CodeType {
	switch f {
	case CodeTypeFilterBarcode:
		return []CodeType{CodeTypeBarcode}
	case CodeTypeFilterQR:
		return []CodeType{CodeTypeQR}
	default:
		return []CodeType{CodeTypeBarcode, CodeTypeQR}
	}
}

type ScanMethod string

const (
	ScanMethodHardware ScanMethod = "hardware"
	ScanMethodCamera   ScanMethod = "camera"
	ScanMethodNone     ScanMethod = "none"
)

type ScanStatus string

const (
	ScanStatusIdle     ScanStatus = "idle"
	ScanStatusScanning ScanStatus = "scanning"
	ScanStatusSuccess  ScanStatus = "success"
	ScanStatusError    ScanStatus = "error"
)
