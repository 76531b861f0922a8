package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/rocm-bench/pkg/logging"
	"github.com/psantana5/rocm-bench/pkg/models"
)

// Resolver finds a runnable, pullable nightly tag for (hardware, date).
//
// Nightly tags have the shape {family}-{hardware}-{date} where family is a
// version prefix like "rocm6.4.1_vllm0.9.1". Resolution first derives the
// set of published families for the day, newest first, then searches for a
// concrete tag per family and verifies its manifest before returning.
type Resolver struct {
	client       *Client
	repository   string
	hardware     string
	denySuffixes []string
	log          *logging.Logger
}

// NewResolver creates a resolver for one repository and hardware id
func NewResolver(client *Client, repository, hardware string, denySuffixes []string, log *logging.Logger) *Resolver {
	return &Resolver{
		client:       client,
		repository:   repository,
		hardware:     hardware,
		denySuffixes: denySuffixes,
		log:          log,
	}
}

// Resolve finds an image for the given date. If family is non-empty only
// that version family is considered. Returns DiscoveryError when no family
// yields a tag, NotPullableError when a tag is listed but its manifest
// check fails.
func (r *Resolver) Resolve(ctx context.Context, date time.Time, family string) (*models.ImageCandidate, error) {
	dateStr := date.Format(models.DateLayout)
	suffix := fmt.Sprintf("-%s-%s", r.hardware, dateStr)

	var families []string
	if family != "" {
		families = []string{family}
	} else {
		found, err := r.availableFamilies(ctx, suffix)
		if err != nil {
			return nil, err
		}
		families = found
	}

	if len(families) == 0 {
		return nil, &models.DiscoveryError{
			Repository: r.repository,
			Hardware:   r.hardware,
			Date:       dateStr,
			Message:    "no version family published for this day",
		}
	}

	for _, fam := range families {
		tag, err := r.findConcreteTag(ctx, fam+suffix)
		if err != nil {
			return nil, err
		}
		if tag == "" {
			continue
		}

		r.log.Debug("Candidate tag found", map[string]interface{}{"tag": tag, "family": fam})

		if err := r.client.ManifestExists(ctx, r.repository, tag); err != nil {
			return nil, &models.NotPullableError{Repository: r.repository, Tag: tag, Err: err}
		}

		return &models.ImageCandidate{
			Repository:  r.repository,
			Tag:         tag,
			Hardware:    r.hardware,
			RocmVersion: fam,
			Date:        dateStr,
			Pullable:    true,
		}, nil
	}

	return nil, &models.DiscoveryError{
		Repository: r.repository,
		Hardware:   r.hardware,
		Date:       dateStr,
		Message:    fmt.Sprintf("no family yielded a concrete tag (tried %d)", len(families)),
	}
}

// availableFamilies lists the version families that published a build for
// the day, sorted newest first. Denylisted variants (reduced or alternate
// builds) are excluded.
func (r *Resolver) availableFamilies(ctx context.Context, suffix string) ([]string, error) {
	seen := make(map[string]bool)

	err := r.client.ListTags(ctx, r.repository, func(tag string) bool {
		if !strings.HasSuffix(tag, suffix) {
			return true
		}
		fam := strings.TrimSuffix(tag, suffix)
		if fam == "" || r.denied(fam) {
			return true
		}
		seen[fam] = true
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("family listing failed: %w", err)
	}

	families := make([]string, 0, len(seen))
	for fam := range seen {
		families = append(families, fam)
	}
	sort.Slice(families, func(i, j int) bool {
		return versionLess(families[j], families[i]) // newest first
	})

	return families, nil
}

// findConcreteTag searches the listing for an exact tag, stopping at the
// first hit
func (r *Resolver) findConcreteTag(ctx context.Context, want string) (string, error) {
	var found string
	err := r.client.ListTags(ctx, r.repository, func(tag string) bool {
		if tag == want {
			found = tag
			return false
		}
		return true
	})
	if err != nil {
		return "", fmt.Errorf("tag search failed: %w", err)
	}
	return found, nil
}

// denied reports whether a family carries a denylisted variant suffix
func (r *Resolver) denied(family string) bool {
	for _, s := range r.denySuffixes {
		if strings.HasSuffix(family, s) {
			return true
		}
	}
	return false
}

// versionLess compares version families by their numeric chunks, so
// rocm6.10 sorts above rocm6.9. Non-numeric chunks fall back to string
// comparison.
func versionLess(a, b string) bool {
	ac := splitChunks(a)
	bc := splitChunks(b)

	n := len(ac)
	if len(bc) < n {
		n = len(bc)
	}

	for i := 0; i < n; i++ {
		an, aerr := strconv.Atoi(ac[i])
		bn, berr := strconv.Atoi(bc[i])
		if aerr == nil && berr == nil {
			if an != bn {
				return an < bn
			}
			continue
		}
		if ac[i] != bc[i] {
			return ac[i] < bc[i]
		}
	}

	return len(ac) < len(bc)
}

// splitChunks splits a version string into alternating numeric and
// non-numeric chunks
func splitChunks(s string) []string {
	var chunks []string
	var cur strings.Builder
	var curDigit bool

	for i, r := range s {
		isDigit := r >= '0' && r <= '9'
		if i > 0 && isDigit != curDigit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		cur.WriteRune(r)
		curDigit = isDigit
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}

	return chunks
}
