package job

// DeviceState is the device-wide state of one service, as opposed to the
// state of an individual job.
type DeviceState string

const (
	DeviceIdle        DeviceState = "idle"
	DeviceProcessing  DeviceState = "processing"
	DeviceStopped     DeviceState = "stopped"
	DeviceMaintenance DeviceState = "maintenance"
	DeviceUnknown     DeviceState = "unknown"
)

// PrinterStatusReason qualifies a printer device state.
type PrinterStatusReason struct {
	Reason   string `json:"printerStatusReason"`
	Severity string `json:"severity"`
}

// DeviceStatus is the device-wide status snapshot for a service. The wire
// document keys the state by service name (printerStatus, scannerStatus...),
// so every variant is carried and StateOf picks the relevant one.
type DeviceStatus struct {
	PrinterStatus string `json:"printerStatus,omitempty"`
	ScannerStatus string `json:"scannerStatus,omitempty"`
	CopyStatus    string `json:"copyStatus,omitempty"`
	FaxStatus     string `json:"faxStatus,omitempty"`

	OccuredErrorLevel string `json:"occuredErrorLevel,omitempty"`

	PrinterStatusReasons []PrinterStatusReason `json:"printerStatusReasons,omitempty"`
	ScannerStatusReasons []string              `json:"scannerStatusReasons,omitempty"`
	CopyStatusReasons    []string              `json:"copyStatusReasons,omitempty"`
	FaxStatusReasons     []string              `json:"faxStatusReasons,omitempty"`
}

// StateOf returns the device state for the given service.
func (s *DeviceStatus) StateOf(svc Service) DeviceState {
	if s == nil {
		return DeviceUnknown
	}
	var raw string
	switch svc {
	case ServicePrinter:
		raw = s.PrinterStatus
	case ServiceScanner:
		raw = s.ScannerStatus
	case ServiceCopy:
		raw = s.CopyStatus
	case ServiceFax:
		raw = s.FaxStatus
	}
	switch DeviceState(raw) {
	case DeviceIdle, DeviceProcessing, DeviceStopped, DeviceMaintenance:
		return DeviceState(raw)
	default:
		return DeviceUnknown
	}
}

// FirstPrinterReason returns the first printer status reason, or "".
func (s *DeviceStatus) FirstPrinterReason() string {
	if s == nil || len(s.PrinterStatusReasons) == 0 {
		return ""
	}
	return s.PrinterStatusReasons[0].Reason
}
