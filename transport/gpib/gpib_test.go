package gpib

import (
	"context"
	"testing"
	"time"

	"github.com/sydrvxd/OpenVISA/visa"
)

func TestAllOperationsNotSupported(t *testing.T) {
	tr := New()

	if err := tr.Open(context.Background(), nil, time.Second); visa.StatusOf(err) != visa.StatusNotSupported {
		t.Fatalf("Open status = %v, want StatusNotSupported", visa.StatusOf(err))
	}
	if _, err := tr.Write([]byte("x")); visa.StatusOf(err) != visa.StatusNotSupported {
		t.Fatalf("Write status = %v, want StatusNotSupported", visa.StatusOf(err))
	}
	if _, _, err := tr.Read(make([]byte, 1), time.Second); visa.StatusOf(err) != visa.StatusNotSupported {
		t.Fatalf("Read status = %v, want StatusNotSupported", visa.StatusOf(err))
	}
	if _, err := tr.ReadStatus(); visa.StatusOf(err) != visa.StatusNotSupported {
		t.Fatalf("ReadStatus status = %v, want StatusNotSupported", visa.StatusOf(err))
	}
	if err := tr.Clear(); visa.StatusOf(err) != visa.StatusNotSupported {
		t.Fatalf("Clear status = %v, want StatusNotSupported", visa.StatusOf(err))
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
