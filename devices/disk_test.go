package devices

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func sector(b byte) []byte {
	return bytes.Repeat([]byte{b}, SectorSize)
}

func TestDisks(t *testing.T) {
	fd, err := OpenFileDisk(filepath.Join(t.TempDir(), "swap.bin"), 8)
	if err != nil {
		t.Fatal(err)
	}
	defer fd.Close()

	disks := []struct {
		name string
		disk Disk
	}{
		{"mem", NewMemDisk(8)},
		{"file", fd},
	}
	for _, d := range disks {
		t.Run(d.name, func(t *testing.T) {
			if d.disk.Size() != 8 {
				t.Fatalf("size = %d, want 8", d.disk.Size())
			}
			if err := d.disk.Write(3, sector(0xab)); err != nil {
				t.Fatal(err)
			}
			got := make([]byte, SectorSize)
			if err := d.disk.Read(3, got); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, sector(0xab)) {
				t.Fatal("read back different data")
			}
			if err := d.disk.Read(2, got); err != nil || !bytes.Equal(got, sector(0)) {
				t.Fatalf("neighbour sector = %v, %v", got[:4], err)
			}

			if err := d.disk.Read(8, got); !errors.Is(err, ErrSectorOutOfRange) {
				t.Fatalf("read past end: %v", err)
			}
			if err := d.disk.Write(-1, got); !errors.Is(err, ErrSectorOutOfRange) {
				t.Fatalf("write before start: %v", err)
			}
			if err := d.disk.Write(0, make([]byte, 10)); err == nil {
				t.Fatal("expected error for short buffer")
			}
		})
	}
}

func TestFileDiskSize(t *testing.T) {
	ruta := filepath.Join(t.TempDir(), "disco.bin")
	d, err := OpenFileDisk(ruta, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	info, err := os.Stat(ruta)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 4*SectorSize || d.Path() != ruta {
		t.Fatalf("size = %d path = %s", info.Size(), d.Path())
	}
}
