// Package sandbox seeds reproducible demo data for local and staging
// environments: one institution, a handful of accounts, and the crisis
// contacts that receive screening alerts.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/domain/directory"
)

// SeedConfig controls the volume and shape of generated demo data.
type SeedConfig struct {
	InstitutionName string `json:"institutionName"`
	AccountCount    int    `json:"accountCount"`
	ContactCount    int    `json:"contactCount"`
	// AnonymousEvery leaves every Nth account without name, email or phone.
	AnonymousEvery int    `json:"anonymousEvery"`
	Locale         string `json:"locale"`
	Seed           int64  `json:"seed"`
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		InstitutionName: "Cobalt Demo University",
		AccountCount:    10,
		ContactCount:    2,
		AnonymousEvery:  5,
		Locale:          directory.DefaultLocale,
	}
}

// DirectoryWriter is the subset of directory.Service the seeder writes
// through, so validation applies to demo data too.
type DirectoryWriter interface {
	CreateInstitution(ctx context.Context, inst *directory.Institution) error
	CreateAccount(ctx context.Context, a *directory.Account) error
	CreateCrisisContact(ctx context.Context, c *directory.CrisisContact) error
}

var (
	givenNames = []string{
		"Avery", "Jordan", "Riley", "Morgan", "Casey", "Quinn", "Rowan",
		"Taylor", "Jamie", "Skyler", "Emerson", "Parker", "Reese", "Harper",
	}
	familyNames = []string{
		"Nguyen", "Okafor", "Garcia", "Kowalski", "Haddad", "Silva", "Chen",
		"Patel", "Johansson", "Mensah", "Rossi", "Tanaka", "Murphy", "Levi",
	}
	contactRoles = []string{
		"Counseling Center On-Call", "Dean of Students", "Behavioral Health Triage",
		"Campus Safety Liaison",
	}
	// Philadelphia area codes, 555 exchange.
	areaCodes = []int{215, 267, 445, 610, 484}
)

// DataGenerator produces deterministic directory records.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) id() uuid.UUID {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return uuid.New()
	}
	return id
}

func (g *DataGenerator) phone() string {
	return fmt.Sprintf("+1%d555%04d", areaCodes[g.rng.Intn(len(areaCodes))], g.rng.Intn(10000))
}

func email(name, domain string) string {
	local := strings.ToLower(strings.ReplaceAll(name, " ", "."))
	return local + "@" + domain
}

func (g *DataGenerator) Institution(name, loc string) *directory.Institution {
	return &directory.Institution{ID: g.id(), Name: name, Locale: loc}
}

// Account builds an account for inst. Anonymous accounts carry no
// identifiers at all.
func (g *DataGenerator) Account(inst *directory.Institution, anonymous bool) *directory.Account {
	a := &directory.Account{ID: g.id(), InstitutionID: inst.ID, Locale: inst.Locale}
	if anonymous {
		return a
	}
	name := g.pick(givenNames) + " " + g.pick(familyNames)
	addr := email(name, "students.example.edu")
	phone := g.phone()
	a.DisplayName = &name
	a.EmailAddress = &addr
	a.PhoneNumber = &phone
	return a
}

// CrisisContact builds an active contact. Odd-numbered contacts are
// phone-only so both delivery channels get exercised.
func (g *DataGenerator) CrisisContact(inst *directory.Institution, n int) *directory.CrisisContact {
	c := &directory.CrisisContact{
		ID:            g.id(),
		InstitutionID: inst.ID,
		Name:          contactRoles[n%len(contactRoles)],
		Locale:        inst.Locale,
		Active:        true,
	}
	phone := g.phone()
	c.PhoneNumber = &phone
	if n%2 == 0 {
		addr := email(c.Name, "crisis.example.edu")
		c.EmailAddress = &addr
	}
	return c
}

// SeedResult summarises what a Seeder wrote.
type SeedResult struct {
	Institution *directory.Institution     `json:"institution"`
	Accounts    []*directory.Account       `json:"accounts"`
	Contacts    []*directory.CrisisContact `json:"contacts"`
}

// Seeder writes generated records through a DirectoryWriter.
type Seeder struct {
	config SeedConfig
	gen    *DataGenerator
}

func NewSeeder(config SeedConfig) *Seeder {
	if config.InstitutionName == "" {
		config.InstitutionName = DefaultSeedConfig().InstitutionName
	}
	if config.Locale == "" {
		config.Locale = directory.DefaultLocale
	}
	return &Seeder{config: config, gen: NewDataGenerator(config.Seed)}
}

func (s *Seeder) Seed(ctx context.Context, w DirectoryWriter) (*SeedResult, error) {
	if s.config.AccountCount < 0 || s.config.ContactCount < 0 {
		return nil, fmt.Errorf("account and contact counts must not be negative")
	}

	inst := s.gen.Institution(s.config.InstitutionName, s.config.Locale)
	if err := w.CreateInstitution(ctx, inst); err != nil {
		return nil, fmt.Errorf("seed institution: %w", err)
	}
	result := &SeedResult{Institution: inst}

	for i := 0; i < s.config.ContactCount; i++ {
		c := s.gen.CrisisContact(inst, i)
		if err := w.CreateCrisisContact(ctx, c); err != nil {
			return nil, fmt.Errorf("seed crisis contact %d: %w", i, err)
		}
		result.Contacts = append(result.Contacts, c)
	}

	for i := 0; i < s.config.AccountCount; i++ {
		anonymous := s.config.AnonymousEvery > 0 && (i+1)%s.config.AnonymousEvery == 0
		a := s.gen.Account(inst, anonymous)
		if err := w.CreateAccount(ctx, a); err != nil {
			return nil, fmt.Errorf("seed account %d: %w", i, err)
		}
		result.Accounts = append(result.Accounts, a)
	}
	return result, nil
}
