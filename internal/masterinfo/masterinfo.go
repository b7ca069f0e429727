// Package masterinfo implements the master-info file codec: a
// newline-delimited text format used to persist replication connection
// state. The file's first line declares how many of the fields below it
// are present; every field after that is one value per line, in a fixed
// order, until the declared count is exhausted.
//
// mysqlbouncer never wires this state into its own runtime — it neither
// connects as a replica nor needs reconnect bookkeeping — so this codec
// exists only so operators can inspect or migrate a master-info file
// without reaching for another tool.
package masterinfo

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// numFields is the number of value lines a master-info file carries
// after its version/count line, in the order Info marshals them.
const numFields = 14

// Info holds one master-info file's fields.
type Info struct {
	LogFile          string
	LogPos           uint64
	Host             string
	User             string
	Password         string
	Port             uint16
	ConnectRetry     uint32
	SSL              bool
	SSLCA            string
	SSLCAPath        string
	SSLCert          string
	SSLCipher        string
	SSLKey           string
	VerifyServerCert bool
}

// Decode parses a master-info file from r. The first line must be an
// ASCII base-10 integer giving the number of fields that follow; Decode
// rejects a count other than numFields since mysqlbouncer only knows
// how to interpret this one field layout.
func Decode(r io.Reader) (*Info, error) {
	sc := bufio.NewScanner(r)

	count, err := readLine(sc)
	if err != nil {
		return nil, fmt.Errorf("masterinfo: reading field count: %w", err)
	}
	n, err := strconv.Atoi(count)
	if err != nil {
		return nil, fmt.Errorf("masterinfo: invalid field count %q: %w", count, err)
	}
	if n != numFields {
		return nil, fmt.Errorf("masterinfo: unsupported field count %d, want %d", n, numFields)
	}

	fields := make([]string, numFields)
	for i := 0; i < numFields; i++ {
		line, err := readLine(sc)
		if err != nil {
			return nil, fmt.Errorf("masterinfo: reading field %d: %w", i, err)
		}
		fields[i] = line
	}

	info := &Info{
		LogFile:  fields[0],
		Host:     fields[2],
		User:     fields[3],
		Password: fields[4],
	}

	logPos, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("masterinfo: invalid log pos %q: %w", fields[1], err)
	}
	info.LogPos = logPos

	port, err := strconv.ParseUint(fields[5], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("masterinfo: invalid port %q: %w", fields[5], err)
	}
	info.Port = uint16(port)

	connectRetry, err := strconv.ParseUint(fields[6], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("masterinfo: invalid connect retry %q: %w", fields[6], err)
	}
	info.ConnectRetry = uint32(connectRetry)

	ssl, err := strconv.ParseUint(fields[7], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("masterinfo: invalid ssl flag %q: %w", fields[7], err)
	}
	info.SSL = ssl != 0

	info.SSLCA = fields[8]
	info.SSLCAPath = fields[9]
	info.SSLCert = fields[10]
	info.SSLCipher = fields[11]
	info.SSLKey = fields[12]

	verify, err := strconv.ParseUint(fields[13], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("masterinfo: invalid verify server cert flag %q: %w", fields[13], err)
	}
	info.VerifyServerCert = verify != 0

	return info, nil
}

// Encode writes info to w in master-info file format.
func Encode(w io.Writer, info *Info) error {
	lines := []string{
		strconv.Itoa(numFields),
		info.LogFile,
		strconv.FormatUint(info.LogPos, 10),
		info.Host,
		info.User,
		info.Password,
		strconv.FormatUint(uint64(info.Port), 10),
		strconv.FormatUint(uint64(info.ConnectRetry), 10),
		boolToField(info.SSL),
		info.SSLCA,
		info.SSLCAPath,
		info.SSLCert,
		info.SSLCipher,
		info.SSLKey,
		boolToField(info.VerifyServerCert),
	}

	bw := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("masterinfo: writing line: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("masterinfo: writing newline: %w", err)
		}
	}
	return bw.Flush()
}

func boolToField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// readLine returns the next line with its trailing newline stripped,
// erroring on EOF since every field is mandatory in this format.
func readLine(sc *bufio.Scanner) (string, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimRight(sc.Text(), "\r"), nil
}
