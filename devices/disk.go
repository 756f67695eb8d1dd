// Package devices simula los discos por bloques que usa el kernel. El área
// de swap vive sobre uno de ellos.
package devices

import (
	"errors"
	"fmt"
	"os"

	"github.com/sisoputnfrba/gokernel/utils"
)

// SectorSize es el tamaño de un sector en bytes
const SectorSize = 512

var ErrSectorOutOfRange = errors.New("devices: sector fuera de rango")

// Disk es un dispositivo que se lee y escribe de a un sector
type Disk interface {
	// Size devuelve la cantidad de sectores
	Size() int
	Read(sector int, buf []byte) error
	Write(sector int, buf []byte) error
}

func checkAccess(d Disk, sector int, buf []byte) error {
	if sector < 0 || sector >= d.Size() {
		return fmt.Errorf("%w: %d de %d", ErrSectorOutOfRange, sector, d.Size())
	}
	if len(buf) != SectorSize {
		return fmt.Errorf("devices: buffer de %d bytes, se esperaban %d", len(buf), SectorSize)
	}
	return nil
}

// MemDisk es un disco en memoria
type MemDisk struct {
	data []byte
}

func NewMemDisk(sectors int) *MemDisk {
	return &MemDisk{data: make([]byte, sectors*SectorSize)}
}

func (d *MemDisk) Size() int {
	return len(d.data) / SectorSize
}

func (d *MemDisk) Read(sector int, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}
	copy(buf, d.data[sector*SectorSize:])
	return nil
}

func (d *MemDisk) Write(sector int, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}
	copy(d.data[sector*SectorSize:], buf)
	return nil
}

// FileDisk es un disco respaldado por un archivo del host
type FileDisk struct {
	file    *os.File
	sectors int
}

// OpenFileDisk crea (o trunca) el archivo de ruta con el tamaño de sectors
// sectores
func OpenFileDisk(ruta string, sectors int) (*FileDisk, error) {
	file, err := os.OpenFile(ruta, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		utils.ErrorLog.Error("Error abriendo archivo de disco", "archivo", ruta, "error", err)
		return nil, fmt.Errorf("error al abrir el disco %s: %w", ruta, err)
	}
	if err := file.Truncate(int64(sectors) * SectorSize); err != nil {
		file.Close()
		return nil, fmt.Errorf("error al dimensionar el disco %s: %w", ruta, err)
	}
	utils.InfoLog.Info("Disco inicializado", "archivo", ruta, "sectores", sectors)
	return &FileDisk{file: file, sectors: sectors}, nil
}

func (d *FileDisk) Size() int {
	return d.sectors
}

func (d *FileDisk) Read(sector int, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}
	if _, err := d.file.ReadAt(buf, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("error al leer el sector %d: %w", sector, err)
	}
	return nil
}

func (d *FileDisk) Write(sector int, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}
	if _, err := d.file.WriteAt(buf, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("error al escribir el sector %d: %w", sector, err)
	}
	return nil
}

// Path devuelve la ruta del archivo que respalda el disco
func (d *FileDisk) Path() string {
	return d.file.Name()
}

func (d *FileDisk) Close() error {
	return d.file.Close()
}
