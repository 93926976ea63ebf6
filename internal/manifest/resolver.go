package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/verdikta/arbiter-adapter/internal/werrors"
	"golang.org/x/sync/errgroup"
)

// Fetcher retrieves the raw bytes addressed by a CID. internal/ipfs.Client
// satisfies this; tests supply an in-memory fake.
type Fetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// Resolver turns a list of CIDs into a single combined Parsed manifest.
type Resolver struct {
	fetcher Fetcher
}

// NewResolver constructs a Resolver backed by fetcher.
func NewResolver(fetcher Fetcher) *Resolver {
	return &Resolver{fetcher: fetcher}
}

// archiveResult is the intermediate per-CID outcome: an extracted, parsed,
// and schema-validated archive, not yet composed with its siblings.
type archiveResult struct {
	cid        string
	dir        string
	raw        *RawManifest
	query      *RawPrimaryQuery
	additional []AdditionalFile
	support    []SupportFile
}

// Resolve fetches, extracts, and validates every CID in the list (first
// entry is primary, the rest are bCIDs), composes the combined prompt in
// input order, and returns the single Parsed manifest the AI jury will
// evaluate. workDir is the per-request working directory; each CID gets
// its own subdirectory beneath it.
func (r *Resolver) Resolve(ctx context.Context, workDir string, cids []string) (*Parsed, error) {
	if len(cids) == 0 {
		return nil, werrors.New(werrors.KindBadRequest, "no CIDs supplied", nil)
	}

	results := make([]*archiveResult, len(cids))

	// The primary is resolved first and alone: bCID validation needs the
	// primary's bCIDs map, and fetching serially here keeps the primary's
	// error (the common case) from racing a concurrent bCID fetch.
	primary, err := r.resolveOne(ctx, workDir, cids[0], 0)
	if err != nil {
		return nil, err
	}
	results[0] = primary

	if len(cids) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i := 1; i < len(cids); i++ {
			i := i
			g.Go(func() error {
				res, err := r.resolveOne(gctx, workDir, cids[i], i)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return r.compose(results)
}

// resolveOne fetches and extracts one archive, locates and decodes its
// manifest, resolves its primary query file, and resolves its
// additional/support attachments. index is the archive's position in the
// input CID list (0 = primary), used only to name its extraction
// subdirectory deterministically.
func (r *Resolver) resolveOne(ctx context.Context, workDir, cid string, index int) (*archiveResult, error) {
	data, err := r.fetcher.Fetch(ctx, cid)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(workDir, fmt.Sprintf("archive_%d_%s", index, sanitizeCIDForPath(cid)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, werrors.New(werrors.KindInternal, "create archive extraction directory", err)
	}
	if err := extractArchive(data, dir); err != nil {
		return nil, err
	}

	raw, err := loadManifestJSON(dir)
	if err != nil {
		return nil, err
	}
	if err := validateRawManifest(raw); err != nil {
		return nil, err
	}

	query, err := r.resolvePrimaryQuery(ctx, dir, raw.Primary)
	if err != nil {
		return nil, err
	}

	additional, err := r.resolveAdditional(ctx, workDir, dir, raw.Additional)
	if err != nil {
		return nil, err
	}

	support, err := r.resolveSupport(ctx, workDir, raw.Support)
	if err != nil {
		return nil, err
	}

	return &archiveResult{
		cid:        cid,
		dir:        dir,
		raw:        raw,
		query:      query,
		additional: additional,
		support:    support,
	}, nil
}

func loadManifestJSON(dir string) (*RawManifest, error) {
	path := filepath.Join(dir, manifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, werrors.New(werrors.KindArchiveCorrupt, "archive does not contain manifest.json", err)
	}
	var raw RawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, werrors.New(werrors.KindManifestInvalid, "manifest.json is not valid JSON", err)
	}
	return &raw, nil
}

func (r *Resolver) resolvePrimaryQuery(ctx context.Context, dir string, ref RawPrimaryRef) (*RawPrimaryQuery, error) {
	var data []byte
	var err error
	if ref.Filename != "" {
		path, joinErr := safeJoin(dir, ref.Filename)
		if joinErr != nil {
			return nil, joinErr
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, werrors.New(werrors.KindArchiveCorrupt, fmt.Sprintf("primary query file %q not found in archive", ref.Filename), err)
		}
	} else {
		data, err = r.fetcher.Fetch(ctx, ref.Hash)
		if err != nil {
			return nil, err
		}
	}

	var query RawPrimaryQuery
	if err := json.Unmarshal(data, &query); err != nil {
		return nil, werrors.New(werrors.KindManifestInvalid, "primary query file is not valid JSON", err)
	}
	if query.Query == "" {
		return nil, werrors.New(werrors.KindManifestInvalid, "primary query file missing required field \"query\"", nil)
	}
	return &query, nil
}

func (r *Resolver) resolveAdditional(ctx context.Context, workDir, archiveDir string, entries []RawAdditionalEntry) ([]AdditionalFile, error) {
	out := make([]AdditionalFile, 0, len(entries))
	for _, e := range entries {
		var path string
		if e.Filename != "" {
			p, err := safeJoin(archiveDir, e.Filename)
			if err != nil {
				return nil, err
			}
			if _, err := os.Stat(p); err != nil {
				return nil, werrors.New(werrors.KindArchiveCorrupt, fmt.Sprintf("additional file %q not found in archive", e.Filename), err)
			}
			path = p
		} else {
			data, err := r.fetcher.Fetch(ctx, e.Hash)
			if err != nil {
				return nil, err
			}
			path = filepath.Join(workDir, "additional_"+e.Hash)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return nil, werrors.New(werrors.KindInternal, "write fetched additional file", err)
			}
		}
		// "ipfs/cid" marks a hash reference, not a content type, so it is
		// sniffed like an undeclared type.
		typ := e.Type
		if typ == "" || typ == "ipfs/cid" {
			typ = detectMIME(path)
		}
		out = append(out, AdditionalFile{Name: e.Name, Type: typ, Path: path, Description: e.Description})
	}
	return out, nil
}

func (r *Resolver) resolveSupport(ctx context.Context, workDir string, entries []RawSupportEntry) ([]SupportFile, error) {
	out := make([]SupportFile, 0, len(entries))
	for _, e := range entries {
		data, err := r.fetcher.Fetch(ctx, e.Hash.CID)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(workDir, "support_"+e.Hash.CID)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, werrors.New(werrors.KindInternal, "write fetched support file", err)
		}
		out = append(out, SupportFile{Hash: e.Hash.CID, Path: path})
	}
	return out, nil
}

// detectMIME sniffs content type from the file's leading bytes, falling
// back to octet-stream. This replaces the source's hardcoded
// "image/webp" default for IPFS-fetched attachments (see DESIGN.md).
func detectMIME(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return http.DetectContentType(buf[:n])
}

// compose builds the final combined Parsed manifest from the primary and
// its bCIDs (in input order), enforcing the bCID name binding and the
// outcomes-length check.
func (r *Resolver) compose(results []*archiveResult) (*Parsed, error) {
	primary := results[0]
	bCIDs := results[1:]

	if len(bCIDs) > 0 {
		rawBCIDManifests := make([]*RawManifest, len(bCIDs))
		for i, b := range bCIDs {
			rawBCIDManifests[i] = b.raw
		}
		if err := validateBCIDBinding(primary.raw.BCIDs, rawBCIDManifests); err != nil {
			return nil, err
		}
	}

	numberOfOutcomes := defaultNumberOfOutcomes
	iterations := defaultIterations
	models := defaultModels()
	if jp := primary.raw.JuryParameters; jp != nil {
		if jp.NumberOfOutcomes > 0 {
			numberOfOutcomes = jp.NumberOfOutcomes
		}
		if jp.Iterations > 0 {
			iterations = jp.Iterations
		}
		if len(jp.AINodes) > 0 {
			models = make([]ModelSpec, len(jp.AINodes))
			for i, n := range jp.AINodes {
				models[i] = ModelSpec{Provider: n.Provider, Model: n.Model, Weight: n.Weight, Count: n.Count}
			}
		}
	}

	outcomes := primary.query.Outcomes
	if len(outcomes) == 0 {
		outcomes = synthesizeOutcomes(numberOfOutcomes)
	}
	if err := validateOutcomesLength(outcomes, numberOfOutcomes); err != nil {
		return nil, err
	}

	prompt := primary.query.Query
	for _, b := range bCIDs {
		prompt += fmt.Sprintf("\n\n**\nWork product submitted for evaluation:\nName: %s\n%s", b.raw.Name, b.query.Query)
	}
	if primary.raw.Addendum != "" {
		prompt += "\n\nAddendum: " + primary.raw.Addendum
	}

	additional := append([]AdditionalFile(nil), primary.additional...)
	support := append([]SupportFile(nil), primary.support...)
	references := append([]string(nil), primary.query.References...)
	for _, b := range bCIDs {
		additional = append(additional, b.additional...)
		support = append(support, b.support...)
		references = append(references, b.query.References...)
	}
	references = dedupeStrings(references)

	return &Parsed{
		Prompt:     prompt,
		Outcomes:   outcomes,
		Models:     models,
		Iterations: iterations,
		Additional: additional,
		Support:    support,
		BCIDs:      primary.raw.BCIDs,
		Addendum:   primary.raw.Addendum,
		References: references,
	}, nil
}

func synthesizeOutcomes(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "outcome" + strconv.Itoa(i+1)
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func sanitizeCIDForPath(cid string) string {
	out := make([]rune, 0, len(cid))
	for _, c := range cid {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return "cid"
	}
	return string(out)
}
