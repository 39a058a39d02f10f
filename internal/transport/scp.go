package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
)

// scpUpload pushes local to remote's containing directory using the scp
// protocol's sink mode.
func scpUpload(client *ssh.Client, local, remote string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr strings.Builder
	session.Stderr = &stderr

	remoteDir := filepath.Dir(remote)
	if remoteDir == "" {
		remoteDir = "."
	}
	if err := session.Start("scp -t " + quoteSingle(remoteDir)); err != nil {
		return err
	}

	ackReader := bufio.NewReader(stdout)
	if err := readSCPAck(ackReader); err != nil {
		return formatSCPError(err, stderr.String())
	}

	srcFile, err := os.Open(local)
	if err != nil {
		return err
	}
	defer srcFile.Close()
	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	mode := srcInfo.Mode().Perm() & 0o777
	header := fmt.Sprintf("C%04o %d %s\n", mode, srcInfo.Size(), filepath.Base(remote))
	if _, err := io.WriteString(stdin, header); err != nil {
		return err
	}
	if err := readSCPAck(ackReader); err != nil {
		return formatSCPError(err, stderr.String())
	}
	if _, err := io.Copy(stdin, srcFile); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte{0}); err != nil {
		return err
	}
	if err := readSCPAck(ackReader); err != nil {
		return formatSCPError(err, stderr.String())
	}
	if err := stdin.Close(); err != nil {
		return err
	}
	if err := session.Wait(); err != nil {
		return formatSCPError(err, stderr.String())
	}
	return nil
}

// scpDownload pulls remote into local using scp's source mode ("scp -f").
func scpDownload(client *ssh.Client, remote, local string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr strings.Builder
	session.Stderr = &stderr

	if err := session.Start("scp -f " + quoteSingle(remote)); err != nil {
		return err
	}

	if _, err := stdin.Write([]byte{0}); err != nil {
		return err
	}
	reader := bufio.NewReader(stdout)
	header, err := reader.ReadString('\n')
	if err != nil {
		return formatSCPError(err, stderr.String())
	}
	header = strings.TrimRight(header, "\n")
	if len(header) == 0 || header[0] != 'C' {
		return fmt.Errorf("unexpected scp header: %q", header)
	}
	fields := strings.SplitN(header[1:], " ", 3)
	if len(fields) != 3 {
		return fmt.Errorf("malformed scp header: %q", header)
	}
	modeBits, err := strconv.ParseUint(fields[0], 8, 32)
	if err != nil {
		return err
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return err
	}

	if _, err := stdin.Write([]byte{0}); err != nil {
		return err
	}

	dstFile, err := os.OpenFile(local, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(modeBits))
	if err != nil {
		return err
	}
	defer dstFile.Close()
	if _, err := io.CopyN(dstFile, reader, size); err != nil {
		return err
	}
	if err := readSCPAck(reader); err != nil {
		return formatSCPError(err, stderr.String())
	}
	if _, err := stdin.Write([]byte{0}); err != nil {
		return err
	}
	return session.Wait()
}

func readSCPAck(reader *bufio.Reader) error {
	code, err := reader.ReadByte()
	if err != nil {
		return err
	}
	switch code {
	case 0:
		return nil
	case 1, 2:
		message, _ := reader.ReadString('\n')
		message = strings.TrimSpace(message)
		if message == "" {
			message = "remote scp returned an error"
		}
		return errors.New(message)
	default:
		return fmt.Errorf("unexpected scp protocol response: %d", code)
	}
}

func formatSCPError(err error, stderrText string) error {
	message := strings.TrimSpace(stderrText)
	if message == "" {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = "scp transfer failed"
	}
	return fmt.Errorf("%s", message)
}

func quoteSingle(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
