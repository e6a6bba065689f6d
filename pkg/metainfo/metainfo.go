package metainfo

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"

	"github.com/anivanovic/gotrack"
	"github.com/anivanovic/gotrack/pkg/bencode"
)

var ErrNotDict = errors.New("metainfo: torrent is not a bencode dictionary")

type (
	Metainfo struct {
		Announce     string     `ben:"announce,optional"`
		AnnounceList [][]string `ben:"announce-list,optional"`
		Comment      string     `ben:"comment,optional"`
		CreatedBy    string     `ben:"created by,optional"`
		CreationDate int64      `ben:"creation date,optional"`
		UrlList      []string   `ben:"url-list,optional"`
		Info         Info       `ben:"info"`

		// InfoHash is SHA-1 over the verbatim info dictionary bytes, the
		// value trackers and peers expect.
		InfoHash gotrack.InfoHash `ben:"-"`
		// CanonicalInfoHash is SHA-1 over the re-encoded info dictionary.
		CanonicalInfoHash gotrack.InfoHash `ben:"-"`
	}

	Info struct {
		Name        string `ben:"name"`
		PieceLength int64  `ben:"piece length"`
		Pieces      []byte `ben:"pieces"`
		Length      int64  `ben:"length,optional"`
		Files       []File `ben:"files,optional"`
		Private     bool   `ben:"private,optional"`
	}

	File struct {
		Length int64    `ben:"length"`
		Path   []string `ben:"path"`
	}
)

// ExtractInfoHash hashes the canonical encoding of the info dictionary of a
// decoded torrent.
func ExtractInfoHash(torrent bencode.Dict) (gotrack.InfoHash, error) {
	info, err := torrent.DictField("info")
	if err != nil {
		return gotrack.InfoHash{}, err
	}
	return sha1.Sum(info.Encode()), nil
}

// Read reads whole torrent file from r and parses it.
func Read(r io.Reader) (*Metainfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("metainfo: read torrent: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Metainfo, error) {
	ben, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}
	root, ok := ben.(bencode.Dict)
	if !ok {
		return nil, ErrNotDict
	}

	m := &Metainfo{}
	if err := bencode.UnmarshalValue(root, m); err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}
	if m.Info.PieceLength <= 0 {
		return nil, fmt.Errorf("metainfo: invalid piece length %d", m.Info.PieceLength)
	}
	if len(m.Info.Pieces)%sha1.Size != 0 {
		return nil, fmt.Errorf("metainfo: pieces length %d is not a multiple of %d", len(m.Info.Pieces), sha1.Size)
	}
	if m.Info.Length < 0 {
		return nil, fmt.Errorf("metainfo: invalid length %d", m.Info.Length)
	}
	for _, f := range m.Info.Files {
		if f.Length < 0 {
			return nil, fmt.Errorf("metainfo: invalid length %d of file %s", f.Length, strings.Join(f.Path, "/"))
		}
	}

	raw, err := bencode.RawField(data, "info")
	if err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}
	m.InfoHash = sha1.Sum(raw)
	if m.CanonicalInfoHash, err = ExtractInfoHash(root); err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}

	return m, nil
}

// Canonical reports whether the info dictionary was stored in canonical
// form, i.e. both info hashes agree.
func (m *Metainfo) Canonical() bool {
	return m.InfoHash == m.CanonicalInfoHash
}

// Trackers returns announce urls in announce, announce-list order without
// duplicates.
func (m *Metainfo) Trackers() []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	add(m.Announce)
	for _, tier := range m.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return urls
}

func (m *Metainfo) TotalLength() int64 {
	if len(m.Info.Files) == 0 {
		return m.Info.Length
	}

	var total int64
	for _, f := range m.Info.Files {
		total += f.Length
	}
	return total
}

func (m *Metainfo) PieceCount() int {
	return len(m.Info.Pieces) / sha1.Size
}

func (m *Metainfo) String() string {
	b := &bytes.Buffer{}
	fmt.Fprintf(b, "{\n\tinfo: {\n")
	fmt.Fprintf(b, "\t\tname: %s\n", m.Info.Name)
	fmt.Fprintf(b, "\t\tlength: %s\n", bytefmt.ByteSize(uint64(m.TotalLength())))
	fmt.Fprintf(b, "\t\tpiece-length: %d\n", m.Info.PieceLength)
	fmt.Fprintf(b, "\t\tpieces: %d\n", m.PieceCount())
	if len(m.Info.Files) > 0 {
		fmt.Fprintf(b, "\t\tfiles: [\n")
		for _, f := range m.Info.Files {
			fmt.Fprintf(b, "\t\t\t[path: %s, size: %s],\n",
				strings.Join(f.Path, "/"), bytefmt.ByteSize(uint64(f.Length)))
		}
		fmt.Fprintf(b, "\t\t]\n")
	}
	fmt.Fprintf(b, "\t}\n")
	if m.Comment != "" {
		fmt.Fprintf(b, "\tcomment: %s\n", m.Comment)
	}
	if m.CreatedBy != "" {
		fmt.Fprintf(b, "\tcreated-by: %s\n", m.CreatedBy)
	}
	if m.CreationDate != 0 {
		fmt.Fprintf(b, "\tcreation-date: %s\n",
			time.Unix(m.CreationDate, 0).UTC().Format(time.DateTime))
	}
	fmt.Fprintf(b, "\ttrackers: [\n")
	for _, u := range m.Trackers() {
		fmt.Fprintf(b, "\t\t%s,\n", u)
	}
	fmt.Fprintf(b, "\t]\n")
	fmt.Fprintf(b, "\tinfo-hash: %s\n", m.InfoHash)
	if !m.Canonical() {
		fmt.Fprintf(b, "\t(canonical) info-hash: %s\n", m.CanonicalInfoHash)
	}
	b.WriteString("}\n")
	return b.String()
}
