package job

// Service identifies a device capability exposed as its own REST namespace
// and event channel.
type Service string

const (
	ServiceScanner Service = "scanner"
	ServicePrinter Service = "printer"
	ServiceCopy    Service = "copy"
	ServiceFax     Service = "fax"
)

// String returns the service name as used in API paths and event ids.
func (s Service) String() string { return string(s) }

// Path returns the REST base path for the service.
func (s Service) Path() string { return "/service/" + string(s) }

// SystemName returns the display name used in system dialogs.
func (s Service) SystemName() string {
	switch s {
	case ServiceScanner:
		return "SCANNER"
	case ServicePrinter:
		return "PRINTER"
	case ServiceCopy:
		return "COPIER"
	case ServiceFax:
		return "FAX"
	default:
		return ""
	}
}

// Processes returns the ordered sub-process list for multi-process job
// tracking. The order matters: progress is resolved by walking this list.
func (s Service) Processes() []Process {
	switch s {
	case ServiceScanner:
		return []Process{ProcessScanning, ProcessFiling, ProcessOcring, ProcessSending}
	case ServiceCopy:
		return []Process{ProcessScanning, ProcessPrinting}
	case ServicePrinter:
		return []Process{ProcessPrinting}
	case ServiceFax:
		return []Process{ProcessScanning}
	default:
		return nil
	}
}

// Process names a phase within a job, or a control action in flight.
type Process string

const (
	ProcessNone     Process = ""
	ProcessScanning Process = "scanning"
	ProcessPrinting Process = "printing"
	ProcessFiling   Process = "filing"
	ProcessOcring   Process = "ocring"
	ProcessSending  Process = "sending"
	ProcessPreview  Process = "preview"

	// Client-side phases that never appear in a device status document.
	ProcessDownloading Process = "downloading"
	ProcessUploading   Process = "uploading"

	// Control actions reported while a request is in flight.
	ProcessStart   Process = "start"
	ProcessCancel  Process = "cancel"
	ProcessProceed Process = "proceed"
	ProcessFinish  Process = "finish"
	ProcessStop    Process = "stop"
)

// String returns the process name as used in event ids.
func (p Process) String() string { return string(p) }
