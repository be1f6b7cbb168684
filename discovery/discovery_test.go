package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sydrvxd/OpenVISA/visa"
)

func withFakeSources(t *testing.T, fns ...func(context.Context) ([]string, error)) {
	t.Helper()
	saved := sources
	sources = fns
	t.Cleanup(func() { sources = saved })
}

func TestFindMergesAndFilters(t *testing.T) {
	withFakeSources(t,
		func(context.Context) ([]string, error) {
			return []string{"TCPIP0::10.0.0.1::inst0::INSTR"}, nil
		},
		func(context.Context) ([]string, error) {
			return []string{"USB0::0x1234::0x5678::SN1::0::INSTR"}, nil
		},
		func(context.Context) ([]string, error) {
			return []string{"ASRL1::INSTR"}, nil
		},
	)

	got, err := Find(context.Background(), "*")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3: %v", len(got), got)
	}
}

func TestFindSkipsErroringSources(t *testing.T) {
	withFakeSources(t,
		func(context.Context) ([]string, error) { return nil, errors.New("no usb stack") },
		func(context.Context) ([]string, error) { return []string{"ASRL1::INSTR"}, nil },
	)

	got, err := Find(context.Background(), "*")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 || got[0] != "ASRL1::INSTR" {
		t.Fatalf("got %v", got)
	}
}

func TestFindDeduplicates(t *testing.T) {
	withFakeSources(t,
		func(context.Context) ([]string, error) {
			return []string{"ASRL1::INSTR", "ASRL1::INSTR"}, nil
		},
		func(context.Context) ([]string, error) {
			return []string{"ASRL1::INSTR"}, nil
		},
	)

	got, err := Find(context.Background(), "*")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1 after dedup: %v", len(got), got)
	}
}

func TestFindCapsAt128(t *testing.T) {
	var many []string
	for i := 0; i < 200; i++ {
		many = append(many, fmt.Sprintf("ASRL%d::INSTR", i))
	}
	withFakeSources(t, func(context.Context) ([]string, error) { return many, nil })

	got, err := Find(context.Background(), "*")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != maxResults {
		t.Fatalf("got %d results, want cap %d", len(got), maxResults)
	}
}

func TestFindEmptyIsResourceNotFound(t *testing.T) {
	withFakeSources(t, func(context.Context) ([]string, error) { return nil, nil })

	_, err := Find(context.Background(), "*")
	if visa.StatusOf(err) != visa.StatusResourceNotFound {
		t.Fatalf("StatusOf(err) = %v, want StatusResourceNotFound", visa.StatusOf(err))
	}
}

func TestFindPatternExcludesNonMatching(t *testing.T) {
	withFakeSources(t,
		func(context.Context) ([]string, error) {
			return []string{"TCPIP0::10.0.0.1::inst0::INSTR", "ASRL1::INSTR"}, nil
		},
	)

	got, err := Find(context.Background(), "ASRL*")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 || got[0] != "ASRL1::INSTR" {
		t.Fatalf("got %v", got)
	}
}
