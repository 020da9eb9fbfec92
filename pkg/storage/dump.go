// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"fmt"
	"os"
)

// DumpPath returns the path of the raw buffer of input number num.
func DumpPath(output string, num int) string {
	return fmt.Sprintf("%v.%02d.bin", output, num)
}

// WriteDump writes a raw telemetry buffer next to the output files.
func WriteDump(output string, num int, data []byte) (string, error) {
	path := DumpPath(output, num)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write dump: %w", err)
	}
	return path, nil
}
