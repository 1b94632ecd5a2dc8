package model

import "time"

// ScanResult is the outcome a gate device displays.
type ScanResult string

const (
	ScanSuccess          ScanResult = "SUCCESS"
	ScanValid            ScanResult = "VALID" // preview only, never logged
	ScanAlreadyUsed      ScanResult = "ALREADY_USED"
	ScanRefunded         ScanResult = "REFUNDED"
	ScanCancelled        ScanResult = "CANCELLED"
	ScanTransferPending  ScanResult = "TRANSFER_PENDING"
	ScanWrongDay         ScanResult = "WRONG_DAY"
	ScanNotFound         ScanResult = "NOT_FOUND"
	ScanSignatureInvalid ScanResult = "SIGNATURE_INVALID"
	ScanContention       ScanResult = "CONTENTION"
)

// ScanLog is an append-only audit row written for every commit attempt.
// TicketID is nil when the presented code matched no ticket.
type ScanLog struct {
	ID        string     // scan_logs.id
	TicketID  *string    // scan_logs.ticket_id (nullable)
	Code      string     // scan_logs.code
	Result    ScanResult // scan_logs.result
	Message   string     // scan_logs.message
	ScannerID string     // scan_logs.scanner_id
	Gate      string     // scan_logs.gate
	DeviceID  string     // scan_logs.device_id
	ScannedAt time.Time  // scan_logs.scanned_at
}
