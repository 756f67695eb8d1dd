// Package filesys es un sistema de archivos plano en memoria. Alcanza para
// respaldar segmentos de ejecutables y archivos mapeados en memoria.
package filesys

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sisoputnfrba/gokernel/utils"
)

var (
	ErrExists   = errors.New("filesys: el archivo ya existe")
	ErrNotFound = errors.New("filesys: no existe el archivo")
	ErrClosed   = errors.New("filesys: archivo cerrado")
)

// FileSys es un directorio único de archivos
type FileSys struct {
	files   map[string]*Inode
	nextNum int
}

func New() *FileSys {
	return &FileSys{files: make(map[string]*Inode), nextNum: 1}
}

// Create crea un archivo de size bytes en cero
func (fs *FileSys) Create(name string, size int) error {
	if name == "" || size < 0 {
		return fmt.Errorf("filesys: nombre o tamaño inválido (%q, %d)", name, size)
	}
	if _, ok := fs.files[name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	fs.files[name] = &Inode{number: fs.nextNum, data: make([]byte, size)}
	fs.nextNum++
	utils.InfoLog.Debug("Archivo creado", "nombre", name, "tamanio", size)
	return nil
}

// Open abre el archivo name con la posición en 0
func (fs *FileSys) Open(name string) (*File, error) {
	inode, ok := fs.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	inode.openCnt++
	return &File{inode: inode}, nil
}

// Remove saca el archivo del directorio. Los que ya lo tenían abierto lo
// siguen usando hasta cerrarlo.
func (fs *FileSys) Remove(name string) error {
	inode, ok := fs.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	inode.removed = true
	delete(fs.files, name)
	return nil
}

// Names devuelve los archivos ordenados por nombre
func (fs *FileSys) Names() []string {
	names := make([]string, 0, len(fs.files))
	for name := range fs.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Inode es el contenido compartido por todas las aperturas de un archivo
type Inode struct {
	number       int
	data         []byte
	openCnt      int
	denyWriteCnt int
	removed      bool
	writes       int
}

func (in *Inode) Number() int {
	return in.number
}

func (in *Inode) Length() int {
	return len(in.data)
}

// Writes cuenta las escrituras que modificaron el inode
func (in *Inode) Writes() int {
	return in.writes
}

func (in *Inode) Removed() bool {
	return in.removed
}

func (in *Inode) readAt(buf []byte, off int) int {
	if off < 0 || off >= len(in.data) {
		return 0
	}
	return copy(buf, in.data[off:])
}

// writeAt escribe extendiendo el archivo si hace falta. Con escrituras
// denegadas no escribe nada.
func (in *Inode) writeAt(buf []byte, off int) int {
	if in.denyWriteCnt > 0 || off < 0 || len(buf) == 0 {
		return 0
	}
	if end := off + len(buf); end > len(in.data) {
		in.data = append(in.data, make([]byte, end-len(in.data))...)
	}
	in.writes++
	return copy(in.data[off:], buf)
}

// DenyWrite impide escribir el inode mientras dure la denegación
func (in *Inode) DenyWrite() {
	in.denyWriteCnt++
	if in.denyWriteCnt > in.openCnt {
		utils.ErrorLog.Error("Denegación de escritura sin apertura", "inode", in.number)
		panic("filesys: más denegaciones que aperturas")
	}
}

// AllowWrite deshace un DenyWrite. Llamarlo de más es un error de uso.
func (in *Inode) AllowWrite() {
	if in.denyWriteCnt <= 0 {
		utils.ErrorLog.Error("Permiso de escritura sin denegación previa", "inode", in.number)
		panic("filesys: AllowWrite sin DenyWrite")
	}
	in.denyWriteCnt--
}

// File es una apertura de un archivo con su propia posición
type File struct {
	inode     *Inode
	pos       int
	denyWrite bool
	closed    bool
}

func (f *File) Inode() *Inode {
	return f.inode
}

// Reopen devuelve una apertura independiente del mismo inode
func (f *File) Reopen() (*File, error) {
	if f.closed {
		return nil, ErrClosed
	}
	f.inode.openCnt++
	return &File{inode: f.inode}, nil
}

// Close libera la apertura y, si correspondía, vuelve a permitir escrituras
func (f *File) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.AllowWrite()
	f.closed = true
	f.inode.openCnt--
	return nil
}

// Read lee desde la posición actual y la avanza
func (f *File) Read(buf []byte) int {
	n := f.inode.readAt(buf, f.pos)
	f.pos += n
	return n
}

// Write escribe en la posición actual y la avanza
func (f *File) Write(buf []byte) int {
	n := f.inode.writeAt(buf, f.pos)
	f.pos += n
	return n
}

func (f *File) ReadAt(buf []byte, off int) int {
	return f.inode.readAt(buf, off)
}

func (f *File) WriteAt(buf []byte, off int) int {
	return f.inode.writeAt(buf, off)
}

func (f *File) Seek(pos int) {
	if pos < 0 {
		pos = 0
	}
	f.pos = pos
}

func (f *File) Tell() int {
	return f.pos
}

func (f *File) Length() int {
	return f.inode.Length()
}

// DenyWrite impide escrituras al inode hasta AllowWrite o Close
func (f *File) DenyWrite() {
	if !f.denyWrite {
		f.denyWrite = true
		f.inode.DenyWrite()
	}
}

func (f *File) AllowWrite() {
	if f.denyWrite {
		f.denyWrite = false
		f.inode.AllowWrite()
	}
}
