package device

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile is a fixed-size file mapped read-write into memory.
type mmapFile struct {
	name string
	data []byte
}

func openMmapFile(name string, size int64) (*mmapFile, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() != size {
		if err := f.Truncate(size); err != nil {
			return nil, err
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mmapFile{name: name, data: data}, nil
}

func (m *mmapFile) sync() error {
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m *mmapFile) close() error {
	return unix.Munmap(m.data)
}

func (m *mmapFile) remove() error {
	err := m.close()
	if e := os.Remove(m.name); err == nil {
		err = e
	}
	return err
}
