// Package srec scans Motorola S-record images and linker map files produced
// by the target toolchain.
package srec

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Info summarizes the loadable content of an S-record image.
type Info struct {
	// Records is the number of data records (S1, S2, S3).
	Records int
	// Bytes is the total number of data bytes.
	Bytes int
	// MinAddr and MaxAddr bound the loaded bytes. Valid only if Bytes > 0.
	MinAddr uint32
	MaxAddr uint32
	// Start is the execution address from an S7/S8/S9 record, if present.
	Start    uint32
	HasStart bool
}

// Empty reports whether the image loads no bytes.
func (i *Info) Empty() bool { return i.Bytes == 0 }

// SyntaxError reports a malformed record.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// addrLen is the address width in bytes per record type.
var addrLen = map[byte]int{
	'0': 2, '1': 2, '2': 3, '3': 4, '5': 2, '6': 3, '7': 4, '8': 3, '9': 2,
}

// ScanFile scans the S-record image at path.
func ScanFile(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := Scan(f)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return info, nil
}

// Scan reads S-records from r. Header, count, and blank lines are accepted
// and ignored; every record's checksum is verified.
func Scan(r io.Reader) (*Info, error) {
	info := &Info{}
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(line) < 4 || line[0] != 'S' {
			return nil, &SyntaxError{Line: lineNo, Msg: "not an S-record"}
		}

		typ := line[1]
		alen, ok := addrLen[typ]
		if !ok {
			return nil, &SyntaxError{Line: lineNo, Msg: fmt.Sprintf("unknown record type S%c", typ)}
		}

		raw, err := hex.DecodeString(line[2:])
		if err != nil {
			return nil, &SyntaxError{Line: lineNo, Msg: "invalid hex"}
		}
		count := int(raw[0])
		if count != len(raw)-1 || count < alen+1 {
			return nil, &SyntaxError{Line: lineNo, Msg: "byte count mismatch"}
		}
		if !checksumOK(raw) {
			return nil, &SyntaxError{Line: lineNo, Msg: "checksum mismatch"}
		}

		var addr uint32
		for _, b := range raw[1 : 1+alen] {
			addr = addr<<8 | uint32(b)
		}
		data := raw[1+alen : len(raw)-1]

		switch typ {
		case '1', '2', '3':
			info.Records++
			if len(data) == 0 {
				continue
			}
			last := addr + uint32(len(data)) - 1
			if info.Bytes == 0 || addr < info.MinAddr {
				info.MinAddr = addr
			}
			if info.Bytes == 0 || last > info.MaxAddr {
				info.MaxAddr = last
			}
			info.Bytes += len(data)
		case '7', '8', '9':
			info.Start = addr
			info.HasStart = true
		}
	}

	return info, scanner.Err()
}

// checksumOK verifies the ones' complement checksum over count, address, and data.
func checksumOK(raw []byte) bool {
	var sum byte
	for _, b := range raw[:len(raw)-1] {
		sum += b
	}
	return ^sum == raw[len(raw)-1]
}

// FindSymbolFile looks up name in the linker map at path.
func FindSymbolFile(path, name string) (uint32, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()
	return FindSymbol(f, name)
}

// FindSymbol scans a linker map for a line of the form "<hex-address> <name>"
// and returns the first address found.
func FindSymbol(r io.Reader, name string) (uint32, bool, error) {
	// Address column followed by the exact symbol name.
	pattern := regexp.MustCompile(`^\s*([0-9A-Fa-f]+)\s+` + regexp.QuoteMeta(name) + `\b`)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := pattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		addr, err := strconv.ParseUint(m[1], 16, 32)
		if err != nil {
			continue
		}
		return uint32(addr), true, nil
	}
	return 0, false, scanner.Err()
}
