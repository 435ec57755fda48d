package model

import "time"

// ScanSession is one open-to-closed lifecycle of the scanner.
type ScanSession struct {
	ID                string         `json:"id"`
	IsOpen            bool           `json:"isOpen"`
	RequestedCodeType CodeTypeFilter `json:"requestedCodeType"`
	Detected          bool           `json:"detected"`
	Status            ScanStatus     `json:"status"`
	ActiveMethod      ScanMethod     `json:"activeMethod"`
	OpenedAt          time.Time      `json:"openedAt"`
}

// DecodedCode is the single result a session delivers to its host.
type DecodedCode struct {
	RawText           string            `json:"rawText"`
	CodeType          CodeType          `json:"codeType"`
	Method            ScanMethod        `json:"method"`
	StructuredPayload map[string]string `json:"structuredPayload,omitempty"`
	CachedResolvedID  string            `json:"cachedResolvedId,omitempty"`
}

type CacheEntry struct {
	Code       string    `json:"code"`
	ResolvedID string    `json:"resolvedId"`
	CachedAt   time.Time `json:"cachedAt"`
}

type CameraDevice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type ScanEvent struct {
	ID         string     `db:"id" json:"id"`
	StationID  string     `db:"station_id" json:"stationId"`
	SessionID  string     `db:"session_id" json:"sessionId"`
	RawText    string     `db:"raw_text" json:"rawText"`
	CodeType   CodeType   `db:"code_type" json:"codeType"`
	Method     ScanMethod `db:"method" json:"method"`
	ResolvedID *string    `db:"resolved_id" json:"resolvedId,omitempty"`
	ScannedAt  time.Time  `db:"scanned_at" json:"scannedAt"`
}

type CreateScanEventParams struct {
	StationID  string
	SessionID  string
	RawText    string
	CodeType   CodeType
	Method     ScanMethod
	ResolvedID *string
	ScannedAt  time.Time
}
