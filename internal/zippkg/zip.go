// Package zippkg implements §4.7: packaging the signed XML into the
// single-entry ZIP DIAN expects, and the inverse operation that peels a
// DIAN response ZIP back open.
package zippkg

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tinto-dian/issuer/internal/domain"
)

// Names holds the two DIAN-mandated filenames for one submission.
type Names struct {
	ArchiveFilename string // what DIAN sees as the SOAP attachment name
	InnerFilename   string // the XML entry name inside the ZIP
}

// BuildNames implements §4.7's naming convention.
//
//	z{nit_digits}{doc_code}{year}{seq}.zip
//	face_f{prefix}{number}.xml
func BuildNames(nit string, docCode string, year int, seq int64, prefix string, number int64) Names {
	nitDigits := onlyDigits(nit)
	seqPadded := fmt.Sprintf("%010d", seq)
	archive := fmt.Sprintf("z%s%s%04d%s.zip", nitDigits, docCode, year, seqPadded)
	inner := fmt.Sprintf("face_f%s%d.xml", prefix, number)
	return Names{ArchiveFilename: archive, InnerFilename: inner}
}

// Pack builds the ZIP (standard deflate, single entry) and returns it
// base64-encoded with padding, ready for SOAP transport.
func Pack(xmlContent []byte, innerFilename string) (string, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	header := &zip.FileHeader{
		Name:     innerFilename,
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	}
	fw, err := zw.CreateHeader(header)
	if err != nil {
		return "", domain.NewCrypto(err, "zippkg: creating entry %s", innerFilename)
	}
	if _, err := fw.Write(xmlContent); err != nil {
		return "", domain.NewCrypto(err, "zippkg: writing XML content")
	}
	if err := zw.Close(); err != nil {
		return "", domain.NewCrypto(err, "zippkg: closing archive")
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ExtractXMLFromZip is the inverse operation: given a base64 ZIP, returns
// the contents of the first entry whose filename ends in .xml
// (case-insensitive).
func ExtractXMLFromZip(base64Zip string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Zip)
	if err != nil {
		return nil, domain.NewValidation("zippkg: invalid base64 payload")
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, domain.NewValidation("zippkg: invalid ZIP archive: %v", err)
	}
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			rc, err := f.Open()
			if err != nil {
				return nil, domain.NewCrypto(err, "zippkg: opening entry %s", f.Name)
			}
			defer rc.Close()
			content, err := io.ReadAll(rc)
			if err != nil {
				return nil, domain.NewCrypto(err, "zippkg: reading entry %s", f.Name)
			}
			return content, nil
		}
	}
	return nil, domain.NewNotFound("zippkg: no .xml entry found in archive")
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
