package logdb

import "os"

func corruptFileByte(path string, offset int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return err
	}

	buf[0] ^= 0xFF

	_, err = f.WriteAt(buf, offset)

	return err
}
