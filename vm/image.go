package vm

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Image Format Constants
// ---------------------------------------------------------------------------

// ImageMagic identifies an imp image file.
var ImageMagic = [4]byte{'I', 'M', 'P', 'C'}

// ImageVersion is the current image format version.
const ImageVersion uint32 = 1

// ErrNotImage is returned when data does not start with ImageMagic.
var ErrNotImage = errors.New("vm: not an imp image")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Image
// ---------------------------------------------------------------------------

// Image is a serialized Program together with the source it was built from.
type Image struct {
	Version    uint32   `cbor:"version"`
	Code       []byte   `cbor:"code"`
	Primitives []string `cbor:"primitives"`
	SourceName string   `cbor:"source_name,omitempty"`
	SourceHash []byte   `cbor:"source_hash,omitempty"`
}

// NewImage wraps p. source may be nil when the program was not compiled
// from IMP source (e.g. assembled).
func NewImage(p *Program, sourceName string, source []byte) *Image {
	img := &Image{
		Version:    ImageVersion,
		Code:       p.Code(),
		Primitives: p.Primitives(),
		SourceName: sourceName,
	}
	if source != nil {
		sum := sha256.Sum256(source)
		img.SourceHash = sum[:]
	}
	return img
}

// Program returns the Program stored in the image.
func (img *Image) Program() *Program {
	return NewProgram(img.Code, img.Primitives)
}

// MarshalImage encodes img as magic followed by canonical CBOR.
func MarshalImage(img *Image) ([]byte, error) {
	body, err := cborEncMode.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("vm: marshal image: %w", err)
	}
	return append(ImageMagic[:], body...), nil
}

// UnmarshalImage decodes data produced by MarshalImage.
func UnmarshalImage(data []byte) (*Image, error) {
	if !bytes.HasPrefix(data, ImageMagic[:]) {
		return nil, ErrNotImage
	}
	var img Image
	if err := cbor.Unmarshal(data[len(ImageMagic):], &img); err != nil {
		return nil, fmt.Errorf("vm: unmarshal image: %w", err)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("vm: unsupported image version %d (want %d)", img.Version, ImageVersion)
	}
	return &img, nil
}

// IsImage reports whether data starts with the image magic.
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, ImageMagic[:])
}

// WriteImageFile writes img to path.
func WriteImageFile(path string, img *Image) error {
	data, err := MarshalImage(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadImageFile reads an image from path.
func ReadImageFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := UnmarshalImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
