package fleet

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// Print job statuses reported by the fleet API.
const (
	PrintStatusQueued   = "QUEUED"
	PrintStatusPreprint = "PREPRINT"
	PrintStatusPrinting = "PRINTING"
	PrintStatusFinished = "FINISHED"
	PrintStatusError    = "ERROR"
	PrintStatusAborted  = "ABORTED"
)

// Printer is a fleet printer.
type Printer struct {
	Serial      string `json:"serial"`
	Alias       string `json:"alias"`
	MachineType string `json:"machine_type_id"`
	Status      string `json:"printer_status"`
	Location    string `json:"location,omitempty"`
}

// Print is a print job.
type Print struct {
	GUID              string    `json:"guid"`
	Name              string    `json:"name"`
	Printer           string    `json:"printer"`
	Status            string    `json:"status"`
	VolumeML          float64   `json:"volume_ml"`
	ElapsedDurationMS int64     `json:"elapsed_duration_ms"`
	CreatedAt         time.Time `json:"created_at"`
}

// Tank is a resin tank.
type Tank struct {
	Serial      string  `json:"serial"`
	Material    string  `json:"material"`
	PrintTimeMS int64   `json:"print_time_ms"`
	LayerCount  int     `json:"layer_count"`
	VolumeML    float64 `json:"tank_volume_ml,omitempty"`
}

// Cartridge is a resin cartridge.
type Cartridge struct {
	Serial            string  `json:"serial"`
	Material          string  `json:"material"`
	VolumeDispensedML float64 `json:"volume_dispensed_ml"`
	InsidePrinter     string  `json:"inside_printer,omitempty"`
}

// EventRecord is a fleet event log entry.
type EventRecord struct {
	ID        int       `json:"id"`
	Type      string    `json:"type"`
	Printer   string    `json:"printer,omitempty"`
	Print     string    `json:"print,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Group is a printer group.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PrintFilter narrows print listings.
type PrintFilter struct {
	Status  string
	Printer string
	PerPage int
}

func (f PrintFilter) query() url.Values {
	q := make(url.Values)
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Printer != "" {
		q.Set("printer", f.Printer)
	}
	if f.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(f.PerPage))
	}
	return q
}

// ListPrinters lists the tenant's fleet printers.
func (c *Client) ListPrinters(tenantID string) *Pages[Printer] {
	return newPages[Printer](c, tenantID, "/printers/", nil)
}

// GetPrinter retrieves one printer by serial.
func (c *Client) GetPrinter(ctx context.Context, tenantID, serial string) (*Printer, error) {
	p := new(Printer)
	if err := c.get(ctx, tenantID, "/printers/"+url.PathEscape(serial)+"/", nil, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPrints lists the tenant's print jobs.
func (c *Client) ListPrints(tenantID string, f PrintFilter) *Pages[Print] {
	return newPages[Print](c, tenantID, "/prints/", f.query())
}

// ListPrinterPrints lists print jobs for one printer.
func (c *Client) ListPrinterPrints(tenantID, serial string, f PrintFilter) *Pages[Print] {
	return newPages[Print](c, tenantID, "/printers/"+url.PathEscape(serial)+"/prints/", f.query())
}

// ListTanks lists the tenant's resin tanks.
func (c *Client) ListTanks(tenantID string) *Pages[Tank] {
	return newPages[Tank](c, tenantID, "/tanks/", nil)
}

// ListCartridges lists the tenant's resin cartridges.
func (c *Client) ListCartridges(tenantID string) *Pages[Cartridge] {
	return newPages[Cartridge](c, tenantID, "/cartridges/", nil)
}

// ListEvents lists fleet event log entries.
func (c *Client) ListEvents(tenantID string) *Pages[EventRecord] {
	return newPages[EventRecord](c, tenantID, "/events/", nil)
}

// ListGroups lists the tenant's printer groups.
func (c *Client) ListGroups(tenantID string) *Pages[Group] {
	return newPages[Group](c, tenantID, "/groups/", nil)
}
