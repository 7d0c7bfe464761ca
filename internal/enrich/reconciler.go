package enrich

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/signalpath/enrich-cli/internal/identify"
	"github.com/signalpath/enrich-cli/internal/loosejson"
	"github.com/signalpath/enrich-cli/pkg/mcp"
)

// BatchCeiling caps identifiers or person ids per tool call. Kept below the
// upstream service's own limit on purpose.
const BatchCeiling = 45

// Default tool names on the MCP service.
const (
	DefaultResolveTool = "resolve_identity"
	DefaultProfileTool = "fetch_profiles"
)

// DefaultProfileDomains is the fixed domain set used for gap-fill fetches.
var DefaultProfileDomains = []string{"demographic", "household", "financial", "interests"}

// Gateway is the slice of the tool service the reconciler needs.
type Gateway interface {
	Execute(ctx context.Context, name string, input map[string]any) (*mcp.Result, error)
}

// Reconciler turns the orchestrator's tool-call log plus the uploaded rows
// into an enriched, order-preserving dataset, auto-resolving and
// auto-fetching whatever the conversation left unmapped.
type Reconciler struct {
	gateway  Gateway
	exporter ExportFetcher

	resolveTool string
	profileTool string
	domains     []string
	batchDelay  time.Duration
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithToolNames overrides the resolution and profile-fetch tool names.
func WithToolNames(resolve, profile string) ReconcilerOption {
	return func(r *Reconciler) {
		if resolve != "" {
			r.resolveTool = resolve
		}
		if profile != "" {
			r.profileTool = profile
		}
	}
}

// WithProfileDomains overrides the gap-fill domain set.
func WithProfileDomains(domains []string) ReconcilerOption {
	return func(r *Reconciler) {
		if len(domains) > 0 {
			r.domains = domains
		}
	}
}

// WithBatchDelay sets the pause between sequential batch calls.
func WithBatchDelay(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		r.batchDelay = d
	}
}

// NewReconciler creates a reconciler over the given gateway and export
// follower.
func NewReconciler(gateway Gateway, exporter ExportFetcher, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		gateway:     gateway,
		exporter:    exporter,
		resolveTool: DefaultResolveTool,
		profileTool: DefaultProfileTool,
		domains:     DefaultProfileDomains,
		batchDelay:  500 * time.Millisecond,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// state is the mutable working set of one reconciliation pass.
type state struct {
	ids         map[string]string            // normalized identifier -> person id
	profiles    map[string]map[string]string // person id -> flattened profile
	resolved    map[string]bool              // person ids seen in resolution results
	exportLinks []string
	warnings    []string
}

func (s *state) warn(msg string, fields ...zap.Field) {
	s.warnings = append(s.warnings, msg)
	zap.L().Warn(msg, fields...)
}

// Reconcile runs the full pass: seed from the conversation's tool-call log,
// auto-resolve unmapped candidates, gap-fill missing profiles, then merge
// back onto the rows in original order. Malformed tool results are skipped
// with a warning, never fatal.
func (r *Reconciler) Reconcile(ctx context.Context, log []ToolCall, rows []Row, fields DetectedFields) (*Result, error) {
	st := &state{
		ids:      map[string]string{},
		profiles: map[string]map[string]string{},
		resolved: map[string]bool{},
	}

	// Step 1: seed the identifier map from resolution results in the log.
	for _, call := range log {
		if call.Name == r.resolveTool {
			r.seedResolution(st, call.Result)
		}
	}

	// Step 2: rows that already carry a person id fill gaps only. Resolution
	// data is authoritative; inferred data never displaces it.
	r.seedKnownIDs(st, rows, fields)

	// Step 3: auto-resolve candidates with no map entry, batched per kind.
	if err := r.autoResolve(ctx, st, rows, fields); err != nil {
		return nil, err
	}

	// Step 4: seed profiles from fetch results, following export indirection.
	for _, call := range log {
		if call.Name == r.profileTool {
			r.seedProfiles(ctx, st, call.Result)
		}
	}

	// Step 5: gap-fill resolved ids that have no profile yet.
	if err := r.gapFill(ctx, st); err != nil {
		return nil, err
	}

	// Step 6: merge, preserving original row order.
	merged := mergeRows(rows, fields, st.ids, st.profiles)

	resolvedIDs := make([]string, 0, len(st.resolved))
	for id := range st.resolved {
		resolvedIDs = append(resolvedIDs, id)
	}
	sort.Strings(resolvedIDs)

	return &Result{
		Rows:                 merged,
		IdentifierToPersonID: st.ids,
		Profiles:             st.profiles,
		ResolvedIDs:          resolvedIDs,
		ExportLinks:          st.exportLinks,
		Warnings:             st.warnings,
	}, nil
}

// seedResolution ingests one resolution-tool result. The payload may be a
// JSON string, an array of text blocks, or already-structured data; business
// errors and unparseable payloads are skipped.
func (r *Reconciler) seedResolution(st *state, result any) {
	payload := decodePayload(result)
	if payload == nil {
		st.warn("skipping unparseable resolution result")
		return
	}

	for _, identity := range extractIdentities(payload) {
		if identity.PersonID == "" {
			continue
		}
		st.resolved[identity.PersonID] = true
		for _, values := range identity.Identifiers {
			for _, raw := range values {
				key := Normalize(raw)
				if key == "" {
					continue
				}
				// Resolution results are authoritative: the last one for a
				// key wins, including over inferred row data.
				st.ids[key] = identity.PersonID
			}
		}
	}
}

// seedKnownIDs records person ids the rows already carry, writing identifier
// keys only where the map has no entry yet.
func (r *Reconciler) seedKnownIDs(st *state, rows []Row, fields DetectedFields) {
	for i, pid := range identify.KnownIDs(rows, fields) {
		st.resolved[pid] = true

		row := rows[i]
		for _, cols := range [][]string{fields.Phones, fields.Emails, fields.Addresses} {
			for _, col := range cols {
				key := Normalize(row[col])
				if key == "" {
					continue
				}
				if _, exists := st.ids[key]; !exists {
					st.ids[key] = pid
				}
			}
		}
	}
}

// autoResolve issues batched resolution calls for every candidate without a
// map entry, feeding results back through the resolution seeder.
func (r *Reconciler) autoResolve(ctx context.Context, st *state, rows []Row, fields DetectedFields) error {
	candidates := identify.Extract(rows, fields)

	for _, kind := range identify.Kinds {
		raws := candidates.Kind(kind)
		var unmapped []string
		for _, norm := range candidates.Normalized(kind) {
			if _, mapped := st.ids[norm]; !mapped {
				unmapped = append(unmapped, raws[norm])
			}
		}

		for _, batch := range batches(unmapped, BatchCeiling) {
			res, err := r.gateway.Execute(ctx, r.resolveTool, map[string]any{
				"kind":        string(kind),
				"identifiers": batch,
			})
			if err != nil {
				return eris.Wrapf(err, "enrich: auto-resolve %s batch", kind)
			}
			if res.IsError() {
				st.warn("resolution batch returned business error",
					zap.String("kind", string(kind)),
					zap.Int("batch_size", len(batch)))
				continue
			}
			r.seedResolution(st, res.Text())
			r.pause(ctx)
		}
	}
	return nil
}

// gapFill fetches profiles for resolved ids the profile map is missing,
// using the fixed default domain set.
func (r *Reconciler) gapFill(ctx context.Context, st *state) error {
	var missing []string
	for id := range st.resolved {
		if _, ok := st.profiles[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)

	for _, batch := range batches(missing, BatchCeiling) {
		res, err := r.gateway.Execute(ctx, r.profileTool, map[string]any{
			"person_ids": batch,
			"domains":    r.domains,
		})
		if err != nil {
			return eris.Wrap(err, "enrich: gap-fill fetch")
		}
		if res.IsError() {
			st.warn("gap-fill batch returned business error",
				zap.Int("batch_size", len(batch)))
			continue
		}
		r.seedProfiles(ctx, st, res.Text())
		r.pause(ctx)
	}
	return nil
}

// seedProfiles ingests one profile-fetch result, following export URLs when
// the service answered with a bulk export instead of inline profiles.
func (r *Reconciler) seedProfiles(ctx context.Context, st *state, result any) {
	payload := decodePayload(result)
	if payload == nil {
		st.warn("skipping unparseable profile result")
		return
	}

	if urls := exportURLs(payload); len(urls) > 0 {
		for _, url := range urls {
			st.exportLinks = append(st.exportLinks, url)
			body, err := r.exporter.Fetch(ctx, url)
			if err != nil {
				st.warn("export fetch failed", zap.String("url", url), zap.Error(err))
				continue
			}
			if exported := loosejson.Decode(body); exported != nil {
				r.ingestProfiles(st, exported)
			} else {
				st.warn("skipping unparseable export payload", zap.String("url", url))
			}
		}
		return
	}

	r.ingestProfiles(st, payload)
}

// ingestProfiles records every profile found in a decoded payload.
func (r *Reconciler) ingestProfiles(st *state, payload any) {
	for _, p := range extractProfiles(payload) {
		pid := personID(p)
		if pid == "" {
			continue
		}
		flat := loosejson.Flatten(profileDomains(p))
		if len(flat) == 0 {
			continue
		}
		existing, ok := st.profiles[pid]
		if !ok {
			st.profiles[pid] = flat
			continue
		}
		// Later fetches fill gaps; they do not clobber earlier data.
		for k, v := range flat {
			if _, have := existing[k]; !have {
				existing[k] = v
			}
		}
	}
}

func (r *Reconciler) pause(ctx context.Context) {
	if r.batchDelay <= 0 {
		return
	}
	timer := time.NewTimer(r.batchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// batches splits values into chunks of at most size.
func batches(values []string, size int) [][]string {
	var out [][]string
	for len(values) > 0 {
		n := size
		if len(values) < n {
			n = len(values)
		}
		out = append(out, values[:n])
		values = values[n:]
	}
	return out
}

// decodePayload normalizes the tool-result shapes into a decoded JSON value:
// a JSON string, an array of text blocks, or already-structured data.
// Payloads carrying the business-error marker decode to nil.
func decodePayload(result any) any {
	switch v := result.(type) {
	case nil:
		return nil
	case string:
		if strings.HasPrefix(v, mcp.ErrorMarker) {
			return nil
		}
		return loosejson.Decode(v)
	case []any:
		if text, ok := joinTextBlocks(v); ok {
			if strings.HasPrefix(text, mcp.ErrorMarker) {
				return nil
			}
			return loosejson.Decode(text)
		}
		return v
	default:
		return v
	}
}

// joinTextBlocks reports whether the array is a list of {type:"text", text}
// blocks, concatenating them if so.
func joinTextBlocks(blocks []any) (string, bool) {
	var sb strings.Builder
	for _, b := range blocks {
		m, ok := b.(map[string]any)
		if !ok {
			return "", false
		}
		text, ok := m["text"].(string)
		if !ok {
			return "", false
		}
		sb.WriteString(text)
	}
	if sb.Len() == 0 {
		return "", false
	}
	return sb.String(), true
}

// exportURLs returns the bulk-export URLs when the payload signals an export
// indirection instead of inline profiles.
func exportURLs(payload any) []string {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	if url, ok := m["export_url"].(string); ok && url != "" {
		return []string{url}
	}
	if arr, ok := m["export_urls"].([]any); ok {
		var out []string
		for _, v := range arr {
			if url, ok := v.(string); ok && url != "" {
				out = append(out, url)
			}
		}
		return out
	}
	return nil
}

// extractIdentities lifts resolved identities out of the decoded payload,
// accepting either a bare array or an object wrapping one.
func extractIdentities(payload any) []ResolvedIdentity {
	items := itemList(payload, "identities", "results", "data")
	out := make([]ResolvedIdentity, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		identity := ResolvedIdentity{
			PersonID:    personID(m),
			Identifiers: map[string][]string{},
		}
		rawIDs, _ := m["identifiers"].(map[string]any)
		for kind, v := range rawIDs {
			switch ids := v.(type) {
			case string:
				identity.Identifiers[kind] = []string{ids}
			case []any:
				for _, id := range ids {
					if s, ok := id.(string); ok {
						identity.Identifiers[kind] = append(identity.Identifiers[kind], s)
					}
				}
			}
		}
		out = append(out, identity)
	}
	return out
}

// extractProfiles lifts profile objects out of the decoded payload.
func extractProfiles(payload any) []map[string]any {
	items := itemList(payload, "profiles", "results", "data")
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// itemList returns the payload as a list: a bare array passes through; an
// object is probed for the first wrapping key that holds an array; a single
// object becomes a one-element list.
func itemList(payload any, keys ...string) []any {
	switch v := payload.(type) {
	case []any:
		return v
	case map[string]any:
		for _, key := range keys {
			if arr, ok := v[key].([]any); ok {
				return arr
			}
		}
		return []any{v}
	default:
		return nil
	}
}

// personID reads the person id from either naming convention, tolerating
// numeric ids by rendering them back to strings.
func personID(m map[string]any) string {
	for _, key := range []string{"person_id", "personId"} {
		switch v := m[key].(type) {
		case string:
			return strings.TrimSpace(v)
		case float64:
			// Upstream occasionally emits numeric ids; they stay opaque strings here.
			return loosejson.Scalar(v)
		}
	}
	return ""
}

// profileDomains returns the enrichable portion of a profile object: the
// domains map when present, else the object minus its person id. Domain
// values that are themselves JSON-encoded strings get a second decode pass.
func profileDomains(m map[string]any) map[string]any {
	src, ok := m["domains"].(map[string]any)
	if !ok {
		src = make(map[string]any, len(m))
		for k, v := range m {
			if k == "person_id" || k == "personId" {
				continue
			}
			src[k] = v
		}
	}

	out := make(map[string]any, len(src))
	for k, v := range src {
		if s, ok := v.(string); ok && looksLikeJSON(s) {
			if decoded := loosejson.Decode(s); decoded != nil {
				out[k] = decoded
				continue
			}
		}
		out[k] = v
	}
	return out
}

func looksLikeJSON(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")
}
