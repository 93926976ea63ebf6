// Package manifest resolves a list of IPFS archive CIDs into a single
// combined, parsed manifest ready for AI jury evaluation: archive
// fetch/extract, schema validation, multi-CID (bCID) composition, and
// construction of the composite prompt.
package manifest

// manifestFileName is the well-known root JSON file inside every archive.
const manifestFileName = "manifest.json"

// RawManifest is the on-disk JSON shape of manifest.json, decoded with
// encoding/json struct tags. Validation is a distinct pass over this
// struct (see validate.go), kept separate from decoding per the
// "dynamic JSON everywhere" design note: explicit schema first, checks
// second.
type RawManifest struct {
	Version        string                `json:"version"`
	Primary        RawPrimaryRef         `json:"primary"`
	Name           string                `json:"name,omitempty"`
	JuryParameters *RawJuryParameters    `json:"juryParameters,omitempty"`
	Additional     []RawAdditionalEntry  `json:"additional,omitempty"`
	Support        []RawSupportEntry     `json:"support,omitempty"`
	BCIDs          map[string]string     `json:"bCIDs,omitempty"`
	Addendum       string                `json:"addendum,omitempty"`
}

// RawPrimaryRef holds exactly one of Filename or Hash (enforced in
// validate.go — the struct itself cannot express the XOR constraint).
type RawPrimaryRef struct {
	Filename string `json:"filename,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// RawJuryParameters configures the AI jury composition for one evaluation.
type RawJuryParameters struct {
	NumberOfOutcomes int           `json:"NUMBER_OF_OUTCOMES,omitempty"`
	AINodes          []RawAINode   `json:"AI_NODES,omitempty"`
	Iterations       int           `json:"ITERATIONS,omitempty"`
}

// RawAINode is one entry of juryParameters.AI_NODES.
type RawAINode struct {
	Model    string  `json:"AI_MODEL"`
	Provider string  `json:"AI_PROVIDER"`
	Count    int     `json:"NO_COUNTS"`
	Weight   float64 `json:"WEIGHT"`
}

// RawAdditionalEntry is one entry of manifest.additional. Exactly one of
// Filename or Hash should be set, mirroring RawPrimaryRef's XOR shape.
type RawAdditionalEntry struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Filename    string `json:"filename,omitempty"`
	Hash        string `json:"hash,omitempty"`
	Description string `json:"description,omitempty"`
}

// RawSupportEntry is one entry of manifest.support.
type RawSupportEntry struct {
	Hash RawSupportHash `json:"hash"`
}

// RawSupportHash is the nested hash object of a support entry.
type RawSupportHash struct {
	CID         string `json:"cid"`
	Description string `json:"description,omitempty"`
	ID          string `json:"id,omitempty"`
}

// RawPrimaryQuery is the JSON shape of the primary query file referenced
// by manifest.primary (either a local filename or a fetched hash).
type RawPrimaryQuery struct {
	Query      string   `json:"query"`
	References []string `json:"references,omitempty"`
	Outcomes   []string `json:"outcomes,omitempty"`
}

// ModelSpec is one AI jury node in the resolved model list.
type ModelSpec struct {
	Provider string
	Model    string
	Weight   float64
	Count    int
}

// AdditionalFile is a resolved attachment: a local absolute path within
// the per-request working directory, ready to be read and attached to
// the AI payload.
type AdditionalFile struct {
	Name        string
	Type        string
	Path        string
	Description string
}

// SupportFile is a resolved support attachment.
type SupportFile struct {
	Hash string
	Path string
}

// Parsed is the resolver's output: a single combined manifest ready for
// AI jury evaluation, assembled from the primary archive and, for
// multi-CID requests, its bCIDs composed in input order.
type Parsed struct {
	Prompt     string
	Outcomes   []string
	Models     []ModelSpec
	Iterations int
	Additional []AdditionalFile
	Support    []SupportFile
	BCIDs      map[string]string
	Addendum   string
	References []string
}

const (
	defaultNumberOfOutcomes = 2
	defaultIterations       = 1
)

func defaultModels() []ModelSpec {
	return []ModelSpec{{Provider: "OpenAI", Model: "gpt-4o", Weight: 1.0, Count: 1}}
}
