package zippkg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinto-dian/issuer/internal/zippkg"
)

func TestBuildNames(t *testing.T) {
	n := zippkg.BuildNames("900.123.456-7", "01", 2026, 42, "SETP", 990000001)
	assert.Equal(t, "z90012345670120260000000042.zip", n.ArchiveFilename)
	assert.Equal(t, "face_fSETP990000001.xml", n.InnerFilename)
}

// TestPackExtract_RoundTrip is P4: packing then extracting returns the
// original XML content unchanged.
func TestPackExtract_RoundTrip(t *testing.T) {
	xmlContent := []byte(`<Invoice><cbc:ID>SETP1</cbc:ID></Invoice>`)
	b64, err := zippkg.Pack(xmlContent, "face_fSETP1.xml")
	require.NoError(t, err)

	extracted, err := zippkg.ExtractXMLFromZip(b64)
	require.NoError(t, err)
	assert.Equal(t, xmlContent, extracted)
}

func TestExtractXMLFromZip_RejectsInvalidBase64(t *testing.T) {
	_, err := zippkg.ExtractXMLFromZip("not-base64!!!")
	require.Error(t, err)
}

func TestExtractXMLFromZip_NotFoundWhenNoXMLEntry(t *testing.T) {
	b64, err := zippkg.Pack([]byte("hello"), "readme.txt")
	require.NoError(t, err)
	_, err = zippkg.ExtractXMLFromZip(b64)
	require.Error(t, err)
}
