package usb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/KudcraftsHQ/label-printer-server/internal/core"
)

// Transport finds usblp printers through sysfs and writes to their
// character devices under <devRoot>/usb. Roots are configurable so
// tests can point at a fixture tree.
type Transport struct {
	sysfsRoot string
	devRoot   string
	log       *zap.Logger
}

func NewTransport(sysfsRoot, devRoot string, log *zap.Logger) *Transport {
	if sysfsRoot == "" {
		sysfsRoot = "/sys"
	}
	if devRoot == "" {
		devRoot = "/dev"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		sysfsRoot: sysfsRoot,
		devRoot:   devRoot,
		log:       log,
	}
}

type device struct {
	info core.DeviceInfo
	node string
}

func (t *Transport) Discover() ([]core.DeviceInfo, error) {
	devices, err := t.scan()
	if err != nil {
		return nil, err
	}

	seen := make(map[core.PrinterIdentity]bool, len(devices))
	infos := make([]core.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if seen[d.info.Identity] {
			continue
		}
		seen[d.info.Identity] = true
		infos = append(infos, d.info)
	}
	return infos, nil
}

func (t *Transport) Open(identity core.PrinterIdentity) (core.DeviceLink, error) {
	devices, err := t.scan()
	if err != nil {
		return nil, err
	}

	for _, d := range devices {
		if d.info.Identity != identity {
			continue
		}
		path := filepath.Join(t.devRoot, "usb", d.node)
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		t.log.Info("opened printer device",
			zap.String("printer", identity.String()),
			zap.String("path", path))
		return &deviceLink{f: f}, nil
	}
	return nil, fmt.Errorf("no device node for %s", identity)
}

// scan walks <sysfsRoot>/class/usbmisc for lp* nodes. A missing class
// directory means the usblp driver is not loaded and yields an empty
// list rather than an error.
func (t *Transport) scan() ([]device, error) {
	classDir := filepath.Join(t.sysfsRoot, "class", "usbmisc")
	entries, err := os.ReadDir(classDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", classDir, err)
	}

	var devices []device
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "lp") {
			continue
		}
		info, err := t.readDevice(filepath.Join(classDir, name))
		if err != nil {
			t.log.Debug("skipping usb node", zap.String("node", name), zap.Error(err))
			continue
		}
		devices = append(devices, device{info: *info, node: name})
	}
	return devices, nil
}

// The device symlink points at the USB interface directory; the ids
// live one level up on the device itself, so the link has to be
// resolved before walking to the parent.
func (t *Transport) readDevice(nodeDir string) (*core.DeviceInfo, error) {
	ifaceDir, err := filepath.EvalSymlinks(filepath.Join(nodeDir, "device"))
	if err != nil {
		return nil, fmt.Errorf("resolving device link: %w", err)
	}
	usbDir := filepath.Dir(ifaceDir)

	vendor, err := readHexID(filepath.Join(usbDir, "idVendor"))
	if err != nil {
		return nil, err
	}
	product, err := readHexID(filepath.Join(usbDir, "idProduct"))
	if err != nil {
		return nil, err
	}

	return &core.DeviceInfo{
		Identity:     core.PrinterIdentity{VendorID: vendor, ProductID: product},
		Manufacturer: readAttr(filepath.Join(usbDir, "manufacturer")),
		Model:        readAttr(filepath.Join(usbDir, "product")),
	}, nil
}

func readHexID(path string) (uint16, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return uint16(v), nil
}

func readAttr(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

type deviceLink struct {
	f *os.File
}

// Send writes the full payload in one call. A write that outlives the
// context is abandoned; the goroutine unblocks when the descriptor is
// closed.
func (l *deviceLink) Send(ctx context.Context, data []byte) error {
	done := make(chan error, 1)
	go func() {
		n, err := l.f.Write(data)
		if err == nil && n < len(data) {
			err = io.ErrShortWrite
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("writing to printer: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *deviceLink) Close() error {
	return l.f.Close()
}
