package trustm

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-trustm/manifest"
	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/shielded"
)

// Provision performs the complete provisioning sequence:
//  1. Open the application
//  2. Write every manifest row with progress tracking
//  3. Read each data row back and compare it (when VerifyAfterWrite is set)
//  4. Close the application
//
// The manifest's protection level overrides the device's for the duration
// of the run. The operation can be cancelled via context.
//
// Example:
//
//	m, _ := manifest.Parse("provision.tmf")
//	err := dev.Provision(context.Background(), m)
func (d *Device) Provision(ctx context.Context, m *manifest.Manifest) error {
	if m == nil {
		return fmt.Errorf("manifest cannot be nil")
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	saved := d.config.Protection
	d.config.Protection = m.Protection
	defer func() { d.config.Protection = saved }()

	startTime := time.Now()
	total := m.Bytes()

	// Phase 1: Open
	d.reportProgress(Progress{
		Phase:     PhaseOpening,
		TotalRows: len(m.Rows),
	})

	open, err := protocol.OpenApplication(nil)
	if err != nil {
		return err
	}
	if _, err := d.execute(ctx, "open application", open); err != nil {
		return fmt.Errorf("open application: %w", err)
	}

	d.logDebug("provisioning started",
		"rows", len(m.Rows),
		"bytes", total,
		"protection", m.Protection.String(),
	)

	// Phase 2: Write (and verify) rows, 2% to 95%
	bytesWritten := 0
	for i, row := range m.Rows {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		report := func(n int) {
			bytesWritten += n
			d.reportProgress(Progress{
				Phase:        PhaseWriting,
				CurrentRow:   i,
				TotalRows:    len(m.Rows),
				Percentage:   2 + percentOf(bytesWritten, total)*0.93,
				BytesWritten: bytesWritten,
				ElapsedTime:  time.Since(startTime),
			})
		}

		if err := d.writeData(ctx, row.OID, row.Mode, row.Offset, row.Data, report); err != nil {
			return fmt.Errorf("write row %d (oid=0x%04X, offset=%d): %w", i, row.OID, row.Offset, err)
		}

		if d.config.VerifyAfterWrite && !row.Metadata() && len(row.Data) > 0 {
			d.reportProgress(Progress{
				Phase:        PhaseVerifying,
				CurrentRow:   i,
				TotalRows:    len(m.Rows),
				Percentage:   2 + percentOf(bytesWritten, total)*0.93,
				BytesWritten: bytesWritten,
				ElapsedTime:  time.Since(startTime),
			})
			if err := d.verifyRow(ctx, row); err != nil {
				return fmt.Errorf("verify row %d (oid=0x%04X, offset=%d): %w", i, row.OID, row.Offset, err)
			}
		}
	}

	// Phase 3: Close
	d.reportProgress(Progress{
		Phase:        PhaseClosing,
		CurrentRow:   len(m.Rows),
		TotalRows:    len(m.Rows),
		Percentage:   97,
		BytesWritten: bytesWritten,
		ElapsedTime:  time.Since(startTime),
	})

	if _, err := d.execute(ctx, "close application", protocol.CloseApplication(false)); err != nil {
		return fmt.Errorf("close application: %w", err)
	}

	d.reportProgress(Progress{
		Phase:        PhaseComplete,
		CurrentRow:   len(m.Rows),
		TotalRows:    len(m.Rows),
		Percentage:   100,
		BytesWritten: bytesWritten,
		ElapsedTime:  time.Since(startTime),
	})

	d.logInfo("provisioning complete",
		"rows", len(m.Rows),
		"bytes", bytesWritten,
		"shielded", m.Protection != shielded.LevelNone,
		"elapsed", time.Since(startTime).String(),
	)
	return nil
}

// verifyRow reads row's range back and compares it with what was written.
func (d *Device) verifyRow(ctx context.Context, row *manifest.Row) error {
	got, err := d.readData(ctx, row.OID, int(row.Offset), len(row.Data))
	if err != nil {
		return err
	}
	if len(got) != len(row.Data) {
		return &VerificationError{
			OID:    row.OID,
			Reason: fmt.Sprintf("read back %d bytes, wrote %d", len(got), len(row.Data)),
		}
	}

	expected := protocol.CalculateRowChecksum(row.Data)
	actual := protocol.CalculateRowChecksum(got)
	if expected != actual || string(got) != string(row.Data) {
		return &ChecksumMismatchError{
			OID:      row.OID,
			Offset:   row.Offset,
			Expected: expected,
			Actual:   actual,
		}
	}
	return nil
}

func percentOf(n, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(n) / float64(total) * 100
}
