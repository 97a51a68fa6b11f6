// Chunk walking adapted from the approach in
// https://github.com/parsiya/Go-Security/blob/master/png-tests/png-chunk-extraction.go

package png_metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"strings"
)

// 89 50 4E 47 0D 0A 1A 0A
var pngHeader = "\x89\x50\x4E\x47\x0D\x0A\x1A\x0A"

// parametersKeyword is the tEXt keyword the WebUI uses for generation
// parameters; a NUL separates keyword and value inside the chunk.
const parametersKeyword = "parameters"

var ErrNotPNG = errors.New("not a PNG file")

// Each chunk is a uint32 big-endian length, a 4 byte type, the data and the
// CRC32 of type+data.
type chunk struct {
	CType string
	Data  []byte
	Crc32 []byte
}

func (c *chunk) populate(r io.Reader) error {
	buf := make([]byte, 4)

	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}

	length := int(binary.BigEndian.Uint32(buf))

	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}

	c.CType = string(buf)

	c.Data = make([]byte, length)
	if _, err := io.ReadFull(r, c.Data); err != nil {
		return err
	}

	c.Crc32 = make([]byte, 4)
	if _, err := io.ReadFull(r, c.Crc32); err != nil {
		return err
	}

	return nil
}

func readChunks(pngData []byte) ([]*chunk, error) {
	if len(pngData) < len(pngHeader) || string(pngData[:len(pngHeader)]) != pngHeader {
		return nil, ErrNotPNG
	}

	r := bytes.NewReader(pngData[len(pngHeader):])

	var chunks []*chunk

	for {
		c := &chunk{}

		err := c.populate(r)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}

		if err != nil {
			return nil, err
		}

		chunks = append(chunks, c)

		if c.CType == "IEND" {
			break
		}
	}

	if len(chunks) == 0 {
		return nil, ErrNotPNG
	}

	return chunks, nil
}

func writeChunk(buf *bytes.Buffer, cType string, data []byte) {
	var length [4]byte

	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.WriteString(cType)
	buf.Write(data)

	crc := crc32.NewIEEE()
	crc.Write([]byte(cType))
	crc.Write(data)

	var sum [4]byte

	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	buf.Write(sum[:])
}

// EmbedParameters returns a copy of pngData with a tEXt "parameters" chunk
// inserted after IHDR, replacing any existing one.
func EmbedParameters(pngData []byte, text string) ([]byte, error) {
	chunks, err := readChunks(pngData)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	buf.WriteString(pngHeader)

	inserted := false

	for _, c := range chunks {
		if c.CType == "tEXt" && strings.HasPrefix(string(c.Data), parametersKeyword+"\x00") {
			continue
		}

		buf.Write(chunkBytes(c))

		if c.CType == "IHDR" && !inserted {
			writeChunk(buf, "tEXt", []byte(parametersKeyword+"\x00"+text))

			inserted = true
		}
	}

	if !inserted {
		return nil, errors.New("missing IHDR chunk")
	}

	return buf.Bytes(), nil
}

func chunkBytes(c *chunk) []byte {
	buf := &bytes.Buffer{}

	var length [4]byte

	binary.BigEndian.PutUint32(length[:], uint32(len(c.Data)))
	buf.Write(length[:])
	buf.WriteString(c.CType)
	buf.Write(c.Data)
	buf.Write(c.Crc32)

	return buf.Bytes()
}

// ExtractParameters returns the embedded generation parameters text, or an
// empty string if the image carries none.
func ExtractParameters(pngData []byte) (string, error) {
	chunks, err := readChunks(pngData)
	if err != nil {
		return "", err
	}

	for _, c := range chunks {
		if c.CType != "tEXt" {
			continue
		}

		data := string(c.Data)
		if strings.HasPrefix(data, parametersKeyword+"\x00") {
			return strings.TrimPrefix(data, parametersKeyword+"\x00"), nil
		}
	}

	return "", nil
}
