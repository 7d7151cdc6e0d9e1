package etsimport

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/yeka/zip"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/encoding/unicode"
)

// Archive constants.
const (
	// MaxFileSize is the maximum allowed file size (50MB), applied to the
	// archive and to every decompressed entry.
	MaxFileSize = 50 * 1024 * 1024

	manifestName   = "project.xml"
	masterDataName = "knx_master.xml"

	// ETS5 and ETS6 derive the zip password from the user password.
	passwordSalt       = "21.project.ets.knx.org"
	passwordIterations = 65536
	passwordKeyLength  = 32
)

var (
	// projectEntry matches the project directory or nested archive at the
	// top level of a .knxproj, e.g. "P-0123/0.xml" or "P-0123.zip".
	projectEntry = regexp.MustCompile(`^(P-[0-9A-Za-z]+)(?:\.zip$|/)`)

	installationDocument = regexp.MustCompile(`^\d+\.xml$`)
)

// Archive holds the decompressed documents of a .knxproj archive keyed by
// normalized logical name. Documents are never modified after loading.
type Archive struct {
	// ProjectID is the ETS project id, e.g. "P-0123".
	ProjectID string

	// Protected reports whether the project was password protected.
	Protected bool

	documents map[string][]byte
}

// LoadArchive unwraps a .knxproj archive and decrypts the nested project
// archive when it is protected.
//
// Errors:
//   - ErrFileTooLarge when the archive or an entry exceeds MaxFileSize
//   - ErrUnsupportedArchive for a corrupt container or missing documents
//   - ErrPasswordRequired when protected and password is empty
//   - ErrWrongPassword when no password candidate decrypts the project
func LoadArchive(data []byte, password string) (*Archive, error) {
	if len(data) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	outer, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedArchive, err)
	}

	a := &Archive{documents: make(map[string][]byte)}
	for _, f := range outer.File {
		name := normalizeName(f.Name)
		if name == "" || strings.HasSuffix(f.Name, "/") {
			continue
		}

		m := projectEntry.FindStringSubmatch(name)
		if m != nil && a.ProjectID == "" {
			a.ProjectID = m[1]
		}

		if m != nil && strings.HasSuffix(name, ".zip") {
			nested, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			if err := a.loadNested(m[1], nested, password); err != nil {
				return nil, err
			}
			continue
		}

		content, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		a.documents[name] = content
	}

	if a.ProjectID == "" {
		return nil, fmt.Errorf("%w: no project found", ErrUnsupportedArchive)
	}
	if _, ok := a.documents[a.ManifestName()]; !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrUnsupportedArchive, a.ManifestName())
	}
	if len(a.InstallationNames()) == 0 {
		return nil, fmt.Errorf("%w: missing installation document", ErrUnsupportedArchive)
	}

	return a, nil
}

// loadNested reads the nested P-XXXX.zip. ETS5 and ETS6 always nest the
// project; its entries are encrypted when the project is protected.
func (a *Archive) loadNested(projectID string, data []byte, password string) error {
	inner, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: nested project archive: %w", ErrUnsupportedArchive, err)
	}

	for _, f := range inner.File {
		if f.IsEncrypted() {
			a.Protected = true
			break
		}
	}
	if a.Protected && password == "" {
		return ErrPasswordRequired
	}

	candidates := []string{""}
	if a.Protected {
		candidates = passwordCandidates(password)
	}

	// A candidate that passes every header check but fails to read means
	// a corrupt project, unless another candidate succeeds.
	var structural, rejected error
	for _, candidate := range candidates {
		docs, err := readNestedEntries(inner, data, candidate)
		if err == nil {
			for name, content := range docs {
				a.documents[projectID+"/"+name] = content
			}
			return nil
		}
		switch {
		case !a.Protected || errors.Is(err, ErrFileTooLarge):
			return err
		case errors.Is(err, errPasswordRejected):
			rejected = err
		default:
			structural = err
		}
	}

	if structural != nil {
		return structural
	}
	return fmt.Errorf("%w: %w", ErrWrongPassword, rejected)
}

// errPasswordRejected marks an entry whose encryption header check fails
// for a candidate password.
var errPasswordRejected = errors.New("password check failed")

func readNestedEntries(r *zip.Reader, archive []byte, password string) (map[string][]byte, error) {
	for _, f := range r.File {
		if f.IsEncrypted() {
			if err := checkPassword(f, archive, password); err != nil {
				return nil, err
			}
		}
	}

	docs := make(map[string][]byte, len(r.File))
	for _, f := range r.File {
		name := normalizeName(f.Name)
		if name == "" || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if f.IsEncrypted() {
			f.SetPassword(password)
		}
		content, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		docs[name] = content
	}
	return docs, nil
}

// checkPassword runs the encryption header check of f without reading its
// content: the AES password verifier, or the ZipCrypto check byte, which
// is the high byte of the CRC, or of the modification time when the sizes
// follow in a data descriptor.
func checkPassword(f *zip.File, archive []byte, password string) error {
	if isAES(f) {
		f.SetPassword(password)
		rc, err := f.Open()
		if errors.Is(err, zip.ErrPassword) {
			return fmt.Errorf("%w: %s", errPasswordRejected, f.Name)
		}
		if err != nil {
			return fmt.Errorf("%w: opening %s: %w", ErrUnsupportedArchive, f.Name, err)
		}
		return rc.Close()
	}

	off, err := f.DataOffset()
	if err != nil || off < 0 || off+zipCryptoHeaderLen > int64(len(archive)) {
		return fmt.Errorf("%w: %s has no encryption header", ErrUnsupportedArchive, f.Name)
	}
	header := zip.NewZipCrypto([]byte(password)).Decrypt(archive[off : off+zipCryptoHeaderLen])
	check := byte(f.CRC32 >> 24)
	if f.Flags&zipDataDescriptor != 0 {
		check = byte(f.ModifiedTime >> 8)
	}
	if header[zipCryptoHeaderLen-1] != check {
		return fmt.Errorf("%w: %s", errPasswordRejected, f.Name)
	}
	return nil
}

const (
	zipCryptoHeaderLen = 12
	zipDataDescriptor  = 0x8
	aesExtraID         = 0x9901
)

// isAES reports whether f carries the WinZip AES extra field.
func isAES(f *zip.File) bool {
	extra := f.Extra
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		if id == aesExtraID {
			return true
		}
		if len(extra) < 4+size {
			break
		}
		extra = extra[4+size:]
	}
	return false
}

// passwordCandidates returns the zip passwords to try in order: the
// ETS5/ETS6 derived password, then the raw password used by ETS4.
func passwordCandidates(password string) []string {
	return []string{DerivePassword(password), password}
}

// DerivePassword returns the zip password ETS5 and ETS6 use for a
// protected project: base64(PBKDF2-HMAC-SHA256(utf16le(password))).
func DerivePassword(password string) string {
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(password))
	if err != nil {
		// Only invalid UTF-8 can fail here; fall back to the raw bytes.
		encoded = []byte(password)
	}
	key := pbkdf2.Key(encoded, []byte(passwordSalt), passwordIterations, passwordKeyLength, sha256.New)
	return base64.StdEncoding.EncodeToString(key)
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > MaxFileSize {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, f.Name)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, entryError(err))
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, entryError(err))
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, f.Name)
	}
	return data, nil
}

// entryError classifies a read failure. Encrypted entries reach here only
// after their password check passed, so every failure is structural.
func entryError(err error) error {
	return fmt.Errorf("%w: %w", ErrUnsupportedArchive, err)
}

func normalizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "." {
		return ""
	}
	return name
}

// Open returns a reader over the named document.
func (a *Archive) Open(name string) (*bytes.Reader, bool) {
	data, ok := a.documents[name]
	if !ok {
		return nil, false
	}
	return bytes.NewReader(data), true
}

// Size returns the decompressed size of the named document.
func (a *Archive) Size(name string) int {
	return len(a.documents[name])
}

// Names returns all document names sorted.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.documents))
	for name := range a.documents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Match returns the sorted names having both prefix and suffix.
func (a *Archive) Match(prefix, suffix string) []string {
	var names []string
	for _, name := range a.Names() {
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix) {
			names = append(names, name)
		}
	}
	return names
}

// ManifestName returns the logical name of project.xml.
func (a *Archive) ManifestName() string {
	return a.ProjectID + "/" + manifestName
}

// InstallationNames returns the installation documents ("P-0123/0.xml")
// in numeric order.
func (a *Archive) InstallationNames() []string {
	var names []string
	for _, name := range a.Match(a.ProjectID+"/", ".xml") {
		if installationDocument.MatchString(path.Base(name)) {
			names = append(names, name)
		}
	}
	slices.SortFunc(names, func(x, y string) int {
		return installationIndex(x) - installationIndex(y)
	})
	return names
}

func installationIndex(name string) int {
	n, _ := strconv.Atoi(strings.TrimSuffix(path.Base(name), ".xml"))
	return n
}

// contains reports whether the named document contains needle.
func (a *Archive) contains(name string, needle []byte) bool {
	return bytes.Contains(a.documents[name], needle)
}
