package distribute

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

// Strategy orders the subscriber list for one distribution run. The
// distributor walks the returned order until quotas, expiry, or the
// participant cap stop it, so position matters.
type Strategy interface {
	Name() string
	Order(ctx context.Context, opp domain.Opportunity, users []domain.UserProfile) ([]domain.UserProfile, error)
}

// NewStrategy builds the named strategy. Unknown names are an error.
func NewStrategy(name string, rotation time.Duration, boost float64, windows domain.FairnessCache, activity domain.ActivityStore, logger *slog.Logger) (Strategy, error) {
	switch name {
	case "round_robin":
		return &RoundRobin{rotation: rotation, windows: windows, logger: logger}, nil
	case "broadcast":
		return Broadcast{}, nil
	case "priority_based":
		return &PriorityBased{boost: boost, activity: activity, logger: logger}, nil
	case "geographic":
		return &Geographic{rotation: rotation, windows: windows, logger: logger}, nil
	default:
		return nil, fmt.Errorf("distribute: unknown strategy %q", name)
	}
}

// RoundRobin rotates the starting position through the subscriber list so no
// user is permanently first in line. The offset is shared through the
// fairness cache and advances once per rotation interval regardless of which
// instance runs the distribution.
type RoundRobin struct {
	rotation time.Duration
	windows  domain.FairnessCache
	logger   *slog.Logger
}

func (r *RoundRobin) Name() string { return "round_robin" }

func (r *RoundRobin) Order(ctx context.Context, _ domain.Opportunity, users []domain.UserProfile) ([]domain.UserProfile, error) {
	if len(users) == 0 {
		return nil, nil
	}

	offset, err := r.advance(ctx, len(users))
	if err != nil {
		return nil, err
	}
	return rotate(sortByID(users), offset), nil
}

// advance reads the shared offset, stepping it forward when the rotation
// interval has elapsed. Offset persistence failures degrade to offset 0
// rather than blocking distribution.
func (r *RoundRobin) advance(ctx context.Context, n int) (int, error) {
	offset, rotatedAt, err := r.windows.RotationOffset(ctx)
	if err != nil {
		r.logger.Warn("rotation offset read failed", slog.String("error", err.Error()))
		return 0, nil
	}

	now := time.Now()
	if rotatedAt.IsZero() || now.Sub(rotatedAt) >= r.rotation {
		offset++
		if err := r.windows.SetRotationOffset(ctx, offset, now); err != nil {
			r.logger.Warn("rotation offset write failed", slog.String("error", err.Error()))
		}
	}
	return offset % n, nil
}

// Broadcast keeps the subscriber list in stable ID order; everyone is
// attempted every time.
type Broadcast struct{}

func (Broadcast) Name() string { return "broadcast" }

func (Broadcast) Order(_ context.Context, _ domain.Opportunity, users []domain.UserProfile) ([]domain.UserProfile, error) {
	return sortByID(users), nil
}

// PriorityBased puts higher tiers first and, within a tier, the most engaged
// users, with engagement scaled by the activity boost factor.
type PriorityBased struct {
	boost    float64
	activity domain.ActivityStore
	logger   *slog.Logger
}

func (p *PriorityBased) Name() string { return "priority_based" }

func (p *PriorityBased) Order(ctx context.Context, _ domain.Opportunity, users []domain.UserProfile) ([]domain.UserProfile, error) {
	type scored struct {
		user  domain.UserProfile
		tier  int
		score float64
	}

	ranked := make([]scored, 0, len(users))
	for _, u := range users {
		s := scored{user: u, tier: tierRank(u.Tier)}
		if p.activity != nil {
			a, err := p.activity.Get(ctx, u.ID)
			if err != nil {
				p.logger.Warn("activity read failed",
					slog.String("user", u.ID),
					slog.String("error", err.Error()),
				)
			} else {
				s.score = a.EngagementScore * p.boost
			}
		}
		ranked = append(ranked, s)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].tier != ranked[j].tier {
			return ranked[i].tier > ranked[j].tier
		}
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].user.ID < ranked[j].user.ID
	})

	out := make([]domain.UserProfile, len(ranked))
	for i, s := range ranked {
		out[i] = s.user
	}
	return out, nil
}

// Geographic groups users by region, interleaving regions so one region
// cannot monopolize the head of the list, and rotates the interleave start
// like RoundRobin.
type Geographic struct {
	rotation time.Duration
	windows  domain.FairnessCache
	logger   *slog.Logger
}

func (g *Geographic) Name() string { return "geographic" }

func (g *Geographic) Order(ctx context.Context, _ domain.Opportunity, users []domain.UserProfile) ([]domain.UserProfile, error) {
	if len(users) == 0 {
		return nil, nil
	}

	byRegion := make(map[string][]domain.UserProfile)
	var regions []string
	for _, u := range sortByID(users) {
		region := u.Region
		if region == "" {
			region = "unknown"
		}
		if _, ok := byRegion[region]; !ok {
			regions = append(regions, region)
		}
		byRegion[region] = append(byRegion[region], u)
	}
	sort.Strings(regions)

	// Interleave: one user per region per round.
	interleaved := make([]domain.UserProfile, 0, len(users))
	for i := 0; len(interleaved) < len(users); i++ {
		for _, region := range regions {
			if i < len(byRegion[region]) {
				interleaved = append(interleaved, byRegion[region][i])
			}
		}
	}

	rr := &RoundRobin{rotation: g.rotation, windows: g.windows, logger: g.logger}
	offset, err := rr.advance(ctx, len(interleaved))
	if err != nil {
		return nil, err
	}
	return rotate(interleaved, offset), nil
}

func sortByID(users []domain.UserProfile) []domain.UserProfile {
	out := make([]domain.UserProfile, len(users))
	copy(out, users)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func rotate(users []domain.UserProfile, offset int) []domain.UserProfile {
	n := len(users)
	if n == 0 {
		return users
	}
	offset = ((offset % n) + n) % n
	if offset == 0 {
		return users
	}
	return append(users[offset:], users[:offset]...)
}

func tierRank(t domain.Tier) int {
	switch t {
	case domain.TierEnterprise:
		return 3
	case domain.TierPremium:
		return 2
	case domain.TierBasic:
		return 1
	default:
		return 0
	}
}
