// Package mock provides a test double for the vision.Describer interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echorelay/internal/vision"
)

// DescribeCall records a single invocation of Describer.Describe.
type DescribeCall struct {
	// Data is a copy of the image bytes passed to Describe.
	Data []byte
	// MIMEType is the MIME type passed to Describe.
	MIMEType string
}

// Describer is a mock implementation of vision.Describer.
type Describer struct {
	mu sync.Mutex

	// AltText is returned by every Describe call.
	AltText string

	// Err, if non-nil, is returned as the error from Describe.
	Err error

	// DescribeCalls records every call to Describe in order.
	DescribeCalls []DescribeCall
}

// Describe records the call and returns AltText, Err.
func (d *Describer) Describe(_ context.Context, data []byte, mimeType string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	d.DescribeCalls = append(d.DescribeCalls, DescribeCall{Data: cp, MIMEType: mimeType})
	if d.Err != nil {
		return "", d.Err
	}
	return d.AltText, nil
}

// Calls returns a snapshot of recorded Describe calls. Thread-safe.
func (d *Describer) Calls() []DescribeCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DescribeCall, len(d.DescribeCalls))
	copy(out, d.DescribeCalls)
	return out
}

// Ensure Describer implements vision.Describer at compile time.
var _ vision.Describer = (*Describer)(nil)
