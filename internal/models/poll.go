package models

import "time"

type PollOption struct {
	OptionID string `bson:"option_id" json:"optionId"`
	Text     string `bson:"text" json:"text"`
	Votes    int    `bson:"votes" json:"votes"`
}

// Ballot is one ledger entry: a user's vote for a single option.
type Ballot struct {
	UserID   string    `bson:"user_id" json:"userId"`
	OptionID string    `bson:"option_id" json:"optionId"`
	VotedAt  time.Time `bson:"voted_at" json:"votedAt"`
}

// Poll keeps a per-option counter and a ledger of ballots. Both are only
// changed together by ReplaceBallot.
type Poll struct {
	ID            string       `bson:"_id" json:"id"`
	ChatID        string       `bson:"chat_id" json:"chatId"`
	MessageID     string       `bson:"message_id" json:"messageId"`
	CreatorID     string       `bson:"creator_id" json:"creatorId"`
	Question      string       `bson:"question" json:"question"`
	Options       []PollOption `bson:"options" json:"options"`
	AllowMultiple bool         `bson:"allow_multiple" json:"allowMultiple"`
	ClosesAt      *time.Time   `bson:"closes_at,omitempty" json:"closesAt,omitempty"`
	Closed        bool         `bson:"closed" json:"closed"`
	ClosedAt      *time.Time   `bson:"closed_at,omitempty" json:"closedAt,omitempty"`
	Votes         []Ballot     `bson:"votes" json:"-"`
	Version       int64        `bson:"version" json:"-"`
	CreatedAt     time.Time    `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time    `bson:"updated_at" json:"updatedAt"`
}

func (p *Poll) HasOption(optionID string) bool {
	for _, o := range p.Options {
		if o.OptionID == optionID {
			return true
		}
	}
	return false
}

// Expired reports whether the closing time has passed at now.
func (p *Poll) Expired(now time.Time) bool {
	return p.ClosesAt != nil && !now.Before(*p.ClosesAt)
}

// ReplaceBallot drops every ballot of userID and records one per optionID,
// adjusting counters to match.
func (p *Poll) ReplaceBallot(userID string, optionIDs []string, now time.Time) {
	kept := p.Votes[:0:0]
	for _, b := range p.Votes {
		if b.UserID == userID {
			p.bump(b.OptionID, -1)
			continue
		}
		kept = append(kept, b)
	}
	for _, id := range optionIDs {
		kept = append(kept, Ballot{UserID: userID, OptionID: id, VotedAt: now})
		p.bump(id, 1)
	}
	p.Votes = kept
}

func (p *Poll) bump(optionID string, delta int) {
	for i := range p.Options {
		if p.Options[i].OptionID == optionID {
			p.Options[i].Votes += delta
			if p.Options[i].Votes < 0 {
				p.Options[i].Votes = 0
			}
			return
		}
	}
}

func (p *Poll) TotalVotes() int {
	total := 0
	for _, o := range p.Options {
		total += o.Votes
	}
	return total
}

// VotedOptionIDs lists the options userID currently holds, in option order.
func (p *Poll) VotedOptionIDs(userID string) []string {
	mine := map[string]bool{}
	for _, b := range p.Votes {
		if b.UserID == userID {
			mine[b.OptionID] = true
		}
	}
	out := make([]string, 0, len(mine))
	for _, o := range p.Options {
		if mine[o.OptionID] {
			out = append(out, o.OptionID)
		}
	}
	return out
}

// PollView is the tally as seen by one user.
type PollView struct {
	*Poll
	TotalVotes         int      `json:"totalVotes"`
	UserVotedOptionIDs []string `json:"userVotedOptionIds"`
}

func (p *Poll) View(userID string) *PollView {
	return &PollView{
		Poll:               p,
		TotalVotes:         p.TotalVotes(),
		UserVotedOptionIDs: p.VotedOptionIDs(userID),
	}
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (p *Poll) Clone() *Poll {
	c := *p
	c.Options = append([]PollOption(nil), p.Options...)
	c.Votes = append([]Ballot(nil), p.Votes...)
	if p.ClosesAt != nil {
		t := *p.ClosesAt
		c.ClosesAt = &t
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
