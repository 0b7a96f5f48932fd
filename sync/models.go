package sync

import (
	"fmt"
	"strings"
	"time"
)

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// VersionType describes one independently versioned asset category.
// Values are immutable descriptors; compare them with ==.
type VersionType struct {
	Name     string // upper-case identifier, e.g. "AZL"
	HashName string // name used in the version tokens sent by the game server
	Suffix   string // suffix of the local version and hashes files
}

var (
	VersionAZL      = VersionType{Name: "AZL", HashName: "azhash", Suffix: ""}
	VersionCV       = VersionType{Name: "CV", HashName: "cvhash", Suffix: "cv"}
	VersionL2D      = VersionType{Name: "L2D", HashName: "l2dhash", Suffix: "live2d"}
	VersionPIC      = VersionType{Name: "PIC", HashName: "pichash", Suffix: "pic"}
	VersionBGM      = VersionType{Name: "BGM", HashName: "bgmhash", Suffix: "bgm"}
	VersionCIPHER   = VersionType{Name: "CIPHER", HashName: "cipherhash", Suffix: "cipher"}
	VersionMANGA    = VersionType{Name: "MANGA", HashName: "mangahash", Suffix: "manga"}
	VersionPAINTING = VersionType{Name: "PAINTING", HashName: "paintinghash", Suffix: "painting"}
	VersionDORM     = VersionType{Name: "DORM", HashName: "dormhash", Suffix: "dorm"}
	VersionMAP      = VersionType{Name: "MAP", HashName: "maphash", Suffix: "map"}
)

// VersionTypes lists every known version type in table order.
var VersionTypes = []VersionType{
	VersionAZL, VersionCV, VersionL2D, VersionPIC, VersionBGM,
	VersionCIPHER, VersionMANGA, VersionPAINTING, VersionDORM, VersionMAP,
}

var (
	versionTypeByHashName = make(map[string]VersionType, len(VersionTypes))
	versionTypeByName     = make(map[string]VersionType, len(VersionTypes))
)

func init() {
	for _, vt := range VersionTypes {
		versionTypeByHashName[vt.HashName] = vt
		versionTypeByName[strings.ToLower(vt.Name)] = vt
	}
}

// VersionTypeFromHashName looks up the version type announced under hashName.
func VersionTypeFromHashName(hashName string) (VersionType, bool) {
	vt, ok := versionTypeByHashName[hashName]
	return vt, ok
}

// VersionTypeFromName looks up a version type by its name, case-insensitively.
func VersionTypeFromName(name string) (VersionType, bool) {
	vt, ok := versionTypeByName[strings.ToLower(name)]
	return vt, ok
}

// String returns the lower-case name, which is also the difflog directory name.
func (v VersionType) String() string {
	return strings.ToLower(v.Name)
}

// MultiPart reports whether tokens of this type carry a dot-joined version.
func (v VersionType) MultiPart() bool {
	return v == VersionAZL
}

// VersionFilename is the local file holding the raw version string.
func (v VersionType) VersionFilename() string {
	return "version" + v.dashSuffix() + ".txt"
}

// HashesFilename is the local file holding the manifest rows.
func (v VersionType) HashesFilename() string {
	return "hashes" + v.dashSuffix() + ".csv"
}

func (v VersionType) dashSuffix() string {
	if v.Suffix == "" {
		return ""
	}
	return "-" + v.Suffix
}

// Client describes a regional game client.
type Client struct {
	Name        string
	Locale      string
	PackageName string // empty when the client is not distributed as a package
}

var (
	ClientEN = Client{Name: "EN", Locale: "en-US", PackageName: "com.YoStarEN.AzurLane"}
	ClientJP = Client{Name: "JP", Locale: "ja-JP", PackageName: "com.YoStarJP.AzurLane"}
	ClientCN = Client{Name: "CN", Locale: "zh-CN", PackageName: ""}
	ClientKR = Client{Name: "KR", Locale: "ko-KR", PackageName: "kr.txwy.and.blhx"}
	ClientTW = Client{Name: "TW", Locale: "zh-TW", PackageName: "com.hkmanjuu.azurlane.gp"}
)

// Clients lists every known client.
var Clients = []Client{ClientEN, ClientJP, ClientCN, ClientKR, ClientTW}

// ClientFromName looks up a client by name, case-insensitively.
func ClientFromName(name string) (Client, bool) {
	for _, c := range Clients {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Client{}, false
}

// ClientFromPackageName looks up the client distributed under packageName.
func ClientFromPackageName(packageName string) (Client, bool) {
	if packageName == "" {
		return Client{}, false
	}
	for _, c := range Clients {
		if c.PackageName == packageName {
			return c, true
		}
	}
	return Client{}, false
}

// HashRow is one manifest line.
type HashRow struct {
	Path string // manifest-relative, forward slashes
	Size int64
	Hash string // md5 hex digest
}

func (r HashRow) String() string {
	return fmt.Sprintf("%s,%d,%s", r.Path, r.Size, r.Hash)
}

// CompareType classifies one path across two manifest generations.
type CompareType int

const (
	CompareNew CompareType = iota + 1
	CompareChanged
	CompareUnchanged
	CompareDeleted
)

var compareTypeNames = map[CompareType]string{
	CompareNew:       "New",
	CompareChanged:   "Changed",
	CompareUnchanged: "Unchanged",
	CompareDeleted:   "Deleted",
}

func (c CompareType) String() string {
	if name, ok := compareTypeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CompareType(%d)", int(c))
}

// MarshalText encodes the type by name, as stored in difflogs.
func (c CompareType) MarshalText() ([]byte, error) {
	name, ok := compareTypeNames[c]
	if !ok {
		return nil, fmt.Errorf("unknown compare type %d", int(c))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a compare type name.
func (c *CompareType) UnmarshalText(text []byte) error {
	for ct, name := range compareTypeNames {
		if name == string(text) {
			*c = ct
			return nil
		}
	}
	return fmt.Errorf("unknown compare type %q", text)
}

// CompareResult is the classification of one path. At least one of Current
// and New is set.
type CompareResult struct {
	Current *HashRow
	New     *HashRow
	Type    CompareType
}

// Path returns the manifest path the result refers to.
func (c CompareResult) Path() string {
	if c.New != nil {
		return c.New.Path
	}
	if c.Current != nil {
		return c.Current.Path
	}
	return ""
}

// DownloadType is the outcome of applying one CompareResult.
type DownloadType int

const (
	DownloadNoChange DownloadType = iota + 1
	DownloadRemoved
	DownloadSuccess
	DownloadFailed
	DownloadForDeletionNoChange
)

func (d DownloadType) String() string {
	switch d {
	case DownloadNoChange:
		return "NoChange"
	case DownloadRemoved:
		return "Removed"
	case DownloadSuccess:
		return "Success"
	case DownloadFailed:
		return "Failed"
	case DownloadForDeletionNoChange:
		return "ForDeletionNoChange"
	}
	return fmt.Sprintf("DownloadType(%d)", int(d))
}

// AssetPath is an asset location both on disk and inside the manifest.
type AssetPath struct {
	Full  string // path on the store filesystem
	Inner string // manifest-relative path
}

// UpdateResult is the unit returned by every apply operation.
type UpdateResult struct {
	Compare  CompareResult
	Download DownloadType
	Path     AssetPath
}

// VersionResult is a parsed version token.
type VersionResult struct {
	Type    VersionType
	Version string
	Hash    string
	Raw     string
}

// DiffLog is the persisted record of the changes applied for one version.
type DiffLog struct {
	Version        string                 `json:"version"`
	Major          bool                   `json:"major"`
	SuccessFiles   map[string]CompareType `json:"success_files"`
	FailedFiles    map[string]CompareType `json:"failed_files"`
	LinkedVersions []LinkedVersion        `json:"linked_versions,omitempty"`
}

// LinkedVersion references the release of another version type that shipped
// together with the one owning the difflog.
type LinkedVersion struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}
