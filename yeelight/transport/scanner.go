package transport

import (
	"context"
	"time"

	"tinygo.org/x/bluetooth"
)

// ScanResult is one advertisement heard during a scan.
type ScanResult struct {
	Address string
	Name    string
	RSSI    int16
}

// Scan listens for BLE advertisements until the timeout elapses or ctx is
// done, reporting each peripheral at most once.
func (t *BluetoothTransport) Scan(ctx context.Context, timeout time.Duration, found func(ScanResult)) error {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seen := make(map[string]bool)
	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			addr := NormalizeMAC(result.Address.String())
			if seen[addr] {
				return
			}
			seen[addr] = true
			found(ScanResult{
				Address: addr,
				Name:    result.LocalName(),
				RSSI:    result.RSSI,
			})
		})
	}()

	select {
	case <-scanCtx.Done():
		_ = t.adapter.StopScan()
		<-done
		return nil
	case err := <-done:
		return err
	}
}
