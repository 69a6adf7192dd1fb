package core

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/db"
)

var (
	ErrPrinterNotFound    = errors.New("printer not found")
	ErrPrinterOffline     = errors.New("printer is offline")
	ErrNoPrinterAvailable = errors.New("no printer available")
	ErrConnectionFailed   = errors.New("connection failed")
)

const (
	defaultTCPPort             = 9100
	defaultConnectTimeout      = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second

	// Universal Exit Language: resets the printer's PJL parser.
	pjlUEL = "\x1b%-12345X"
)

const (
	PrinterStatusUnknown = "unknown"
	PrinterStatusOnline  = "online"
	PrinterStatusOffline = "offline"
	PrinterStatusBusy    = "busy"
)

var pjlPaper = map[string]string{
	"A4":     "A4",
	"A3":     "A3",
	"Letter": "LETTER",
	"Legal":  "LEGAL",
}

type Printer struct {
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	Port       int        `json:"port"`
	Status     string     `json:"status"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	TotalJobs  int64      `json:"total_jobs"`
}

func (p *Printer) addr() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
}

// PrinterManager drives network printers over raw TCP (port 9100), wrapping
// each document in a PJL job so device settings travel with the data.
type PrinterManager struct {
	db       *sql.DB
	config   *config.PrintersConfig
	store    FileStore
	logger   *slog.Logger
	printers map[string]*Printer
	mu       sync.RWMutex
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewPrinterManager(conn *sql.DB, cfg *config.PrintersConfig, store FileStore, logger *slog.Logger) *PrinterManager {
	if cfg == nil {
		cfg = &config.PrintersConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PrinterManager{
		db:       conn,
		config:   cfg,
		store:    store,
		logger:   logger.With("component", "printers"),
		printers: make(map[string]*Printer),
		stopCh:   make(chan struct{}),
	}
}

// Start registers the configured devices and launches the health check loop.
func (pm *PrinterManager) Start(ctx context.Context) error {
	if err := pm.LoadPrinters(ctx); err != nil {
		return err
	}

	pm.wg.Add(1)
	go pm.healthCheckLoop()
	return nil
}

func (pm *PrinterManager) Stop() {
	pm.stopOnce.Do(func() { close(pm.stopCh) })
	pm.wg.Wait()
}

// LoadPrinters upserts configured devices into the printers table and loads
// their persisted state.
func (pm *PrinterManager) LoadPrinters(ctx context.Context) error {
	for _, d := range pm.config.Devices {
		port := d.Port
		if port == 0 {
			port = defaultTCPPort
		}
		if err := db.Printers.UpsertPrinter(ctx, pm.db, &db.Printer{Name: d.Name, Address: d.Address, Port: port}); err != nil {
			return fmt.Errorf("failed to register printer %s: %w", d.Name, err)
		}

		row, err := db.Printers.GetPrinterByName(ctx, pm.db, d.Name)
		if err != nil {
			return fmt.Errorf("failed to load printer %s: %w", d.Name, err)
		}

		pm.mu.Lock()
		pm.printers[row.Name] = &Printer{
			Name:       row.Name,
			Address:    row.Address,
			Port:       row.Port,
			Status:     PrinterStatusUnknown,
			LastSeenAt: row.LastSeenAt,
			TotalJobs:  row.TotalJobs,
		}
		pm.mu.Unlock()
	}
	return nil
}

func (pm *PrinterManager) GetPrinter(name string) (*Printer, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	p, exists := pm.printers[name]
	if !exists {
		return nil, ErrPrinterNotFound
	}
	cp := *p
	return &cp, nil
}

func (pm *PrinterManager) ListPrinters() []*Printer {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	printers := make([]*Printer, 0, len(pm.printers))
	for _, p := range pm.printers {
		cp := *p
		printers = append(printers, &cp)
	}
	sort.Slice(printers, func(i, j int) bool { return printers[i].Name < printers[j].Name })
	return printers
}

func (pm *PrinterManager) connectTimeout() time.Duration {
	if pm.config.ConnectionTimeout > 0 {
		return pm.config.ConnectionTimeout
	}
	return defaultConnectTimeout
}

func (pm *PrinterManager) dial(ctx context.Context, p *Printer) (net.Conn, error) {
	d := net.Dialer{Timeout: pm.connectTimeout()}
	conn, err := d.DialContext(ctx, "tcp", p.addr())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return conn, nil
}

// CheckStatus probes the printer's port and records whether it answered.
func (pm *PrinterManager) CheckStatus(ctx context.Context, name string) (string, error) {
	pm.mu.RLock()
	p, exists := pm.printers[name]
	if !exists {
		pm.mu.RUnlock()
		return "", ErrPrinterNotFound
	}
	target := *p
	pm.mu.RUnlock()

	if target.Status == PrinterStatusBusy {
		return PrinterStatusBusy, nil
	}

	conn, err := pm.dial(ctx, &target)
	if err != nil {
		pm.updatePrinterStatus(ctx, name, PrinterStatusOffline)
		return PrinterStatusOffline, err
	}
	conn.Close()

	pm.updatePrinterStatus(ctx, name, PrinterStatusOnline)
	return PrinterStatusOnline, nil
}

func (pm *PrinterManager) updatePrinterStatus(ctx context.Context, name, status string) {
	pm.mu.Lock()
	p, exists := pm.printers[name]
	if !exists {
		pm.mu.Unlock()
		return
	}
	oldStatus := p.Status
	p.Status = status
	var lastSeen *time.Time
	if status != PrinterStatusOffline {
		now := time.Now().UTC()
		p.LastSeenAt = &now
	}
	lastSeen = p.LastSeenAt
	pm.mu.Unlock()

	if err := db.Printers.UpdatePrinterStatus(ctx, pm.db, name, status, lastSeen); err != nil {
		pm.logger.Warn("failed to persist printer status", "printer", name, "error", err)
	}

	if oldStatus != status && status != PrinterStatusBusy && oldStatus != PrinterStatusBusy {
		pm.logger.Info("printer status changed", "printer", name, "old_status", oldStatus, "new_status", status)
	}
}

func (pm *PrinterManager) CheckAllStatuses(ctx context.Context) {
	pm.mu.RLock()
	names := make([]string, 0, len(pm.printers))
	for name := range pm.printers {
		names = append(names, name)
	}
	pm.mu.RUnlock()

	for _, name := range names {
		_, _ = pm.CheckStatus(ctx, name)
	}
}

func (pm *PrinterManager) healthCheckLoop() {
	defer pm.wg.Done()

	interval := pm.config.HealthCheckInterval
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.CheckAllStatuses(context.Background())

	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			pm.CheckAllStatuses(context.Background())
		}
	}
}

// selectPrinter returns the configured default printer when usable, otherwise
// the first printer by name that is not known to be offline.
func (pm *PrinterManager) selectPrinter() (*Printer, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	usable := func(p *Printer) bool {
		return p.Status == PrinterStatusOnline || p.Status == PrinterStatusUnknown
	}

	if name := pm.config.Default; name != "" {
		if p, ok := pm.printers[name]; ok && usable(p) {
			cp := *p
			return &cp, nil
		}
	}

	names := make([]string, 0, len(pm.printers))
	for name := range pm.printers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if p := pm.printers[name]; usable(p) {
			cp := *p
			return &cp, nil
		}
	}
	if len(names) == 0 {
		return nil, ErrNoPrinterAvailable
	}
	return nil, ErrPrinterOffline
}

// Print streams the job's document to a printer inside a PJL job envelope.
// The write is bounded by ctx; cancellation aborts the transfer.
func (pm *PrinterManager) Print(ctx context.Context, job *db.PrintJob) (string, error) {
	p, err := pm.selectPrinter()
	if err != nil {
		return "", err
	}

	header, err := BuildPJLHeader(job)
	if err != nil {
		return p.Name, err
	}

	if pm.store == nil {
		return p.Name, fmt.Errorf("no file store configured")
	}
	doc, err := pm.store.Open(ctx, job.FileRef)
	if err != nil {
		return p.Name, fmt.Errorf("failed to open document %s: %w", job.FileRef, err)
	}
	defer doc.Close()

	conn, err := pm.dial(ctx, p)
	if err != nil {
		pm.updatePrinterStatus(ctx, p.Name, PrinterStatusOffline)
		return p.Name, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	pm.updatePrinterStatus(ctx, p.Name, PrinterStatusBusy)

	w := bufio.NewWriter(conn)
	if err := writeJob(w, header, doc, job.ID); err != nil {
		pm.updatePrinterStatus(context.WithoutCancel(ctx), p.Name, PrinterStatusOnline)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return p.Name, fmt.Errorf("print aborted: %w", ctxErr)
		}
		return p.Name, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	pm.mu.Lock()
	if cur, ok := pm.printers[p.Name]; ok {
		cur.TotalJobs++
	}
	pm.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	if err := db.Printers.IncrementJobCount(bg, pm.db, p.Name); err != nil {
		pm.logger.Warn("failed to increment printer job count", "printer", p.Name, "error", err)
	}
	pm.updatePrinterStatus(bg, p.Name, PrinterStatusOnline)

	return p.Name, nil
}

func writeJob(w *bufio.Writer, header string, doc io.Reader, jobID string) error {
	if _, err := w.WriteString(header); err != nil {
		return err
	}
	if _, err := io.Copy(w, doc); err != nil {
		return err
	}
	if _, err := w.WriteString(pjlTrailer(jobID)); err != nil {
		return err
	}
	return w.Flush()
}

// BuildPJLHeader renders the PJL preamble carrying copies, duplex, color,
// paper size and page range for a PDF job.
func BuildPJLHeader(job *db.PrintJob) (string, error) {
	var b strings.Builder

	b.WriteString(pjlUEL)
	b.WriteString("@PJL\r\n")

	fmt.Fprintf(&b, "@PJL JOB NAME=%q", job.ID)
	if job.PageRange != "" {
		start, end, err := ParsePageRange(job.PageRange)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " START=%d END=%d", start, end)
	}
	b.WriteString("\r\n")

	copies := job.Copies
	if copies < 1 {
		copies = 1
	}
	fmt.Fprintf(&b, "@PJL SET COPIES=%d\r\n", copies)

	if job.Duplex {
		b.WriteString("@PJL SET DUPLEX=ON\r\n")
		b.WriteString("@PJL SET BINDING=LONGEDGE\r\n")
	} else {
		b.WriteString("@PJL SET DUPLEX=OFF\r\n")
	}

	if job.Color {
		b.WriteString("@PJL SET RENDERMODE=COLOR\r\n")
	} else {
		b.WriteString("@PJL SET RENDERMODE=GRAYSCALE\r\n")
	}

	paper, ok := pjlPaper[job.PaperType]
	if !ok {
		paper = "A4"
	}
	fmt.Fprintf(&b, "@PJL SET PAPER=%s\r\n", paper)

	b.WriteString("@PJL ENTER LANGUAGE=PDF\r\n")
	return b.String(), nil
}

func pjlTrailer(jobID string) string {
	return fmt.Sprintf("%s@PJL EOJ NAME=%q\r\n%s", pjlUEL, jobID, pjlUEL)
}
