package screening

import (
	_ "embed"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// catalogNamespace seeds the name-based UUIDs of questions and answers.
// Stored session answers reference these ids, so it must never change.
var catalogNamespace = uuid.MustParse("6f1c7a52-93e4-4b8e-a0d1-2c5b8e7d9f30")

// Catalog is the read-only instrument reference data.
type Catalog struct {
	order       []InstrumentID
	instruments map[InstrumentID]*Instrument
	byURLName   map[string]*Instrument
	questions   map[uuid.UUID]*Question
	byCode      map[string]*Question
	answers     map[uuid.UUID]*Answer
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
})

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return defaultCatalog()
}

type catalogFile struct {
	AnswerSets  map[string][]answerDef `yaml:"answer_sets"`
	Instruments []instrumentDef        `yaml:"instruments"`
}

type answerDef struct {
	Code   string `yaml:"code"`
	Label  string `yaml:"label"`
	Points int    `yaml:"points"`
}

type carryOverDef struct {
	ScreenerQuestion string `yaml:"screener_question"`
	Slot             int    `yaml:"slot"`
}

type questionDef struct {
	Code    string   `yaml:"code"`
	Text    string   `yaml:"text"`
	Answers string   `yaml:"answers"`
	Crisis  []string `yaml:"crisis"`
}

type instrumentDef struct {
	ID        InstrumentID   `yaml:"id"`
	URLName   string         `yaml:"url_name"`
	Name      string         `yaml:"name"`
	Threshold *int           `yaml:"threshold"`
	CarryOver []carryOverDef `yaml:"carry_over"`
	Questions []questionDef  `yaml:"questions"`
}

func LoadCatalog(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog builds a Catalog from YAML and checks it is internally
// consistent: every instrument present once, every question answerable,
// carry-over slots contiguous. Crisis flags may sit on any instrument.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		instruments: make(map[InstrumentID]*Instrument),
		byURLName:   make(map[string]*Instrument),
		questions:   make(map[uuid.UUID]*Question),
		byCode:      make(map[string]*Question),
		answers:     make(map[uuid.UUID]*Answer),
	}
	byCode := c.byCode

	for _, def := range f.Instruments {
		if !def.ID.Valid() {
			return nil, fmt.Errorf("catalog: unknown instrument %q", def.ID)
		}
		if _, dup := c.instruments[def.ID]; dup {
			return nil, fmt.Errorf("catalog: instrument %s defined twice", def.ID)
		}
		if def.URLName == "" {
			return nil, fmt.Errorf("catalog: instrument %s has no url_name", def.ID)
		}
		if _, dup := c.byURLName[def.URLName]; dup {
			return nil, fmt.Errorf("catalog: url_name %q used twice", def.URLName)
		}
		if len(def.Questions) == 0 {
			return nil, fmt.Errorf("catalog: instrument %s has no questions", def.ID)
		}

		inst := &Instrument{ID: def.ID, URLName: def.URLName, Name: def.Name, Threshold: def.Threshold}
		for qi, qdef := range def.Questions {
			q, err := buildQuestion(def.ID, qi, qdef, f.AnswerSets)
			if err != nil {
				return nil, err
			}
			if _, dup := byCode[q.Code]; dup {
				return nil, fmt.Errorf("catalog: question code %q used twice", q.Code)
			}
			byCode[q.Code] = q
			c.questions[q.ID] = q
			for _, a := range q.Answers {
				c.answers[a.ID] = a
			}
			inst.Questions = append(inst.Questions, q)
		}

		c.instruments[def.ID] = inst
		c.byURLName[def.URLName] = inst
		c.order = append(c.order, def.ID)
	}

	for _, id := range CascadeOrder {
		if _, ok := c.instruments[id]; !ok {
			return nil, fmt.Errorf("catalog: instrument %s missing", id)
		}
	}
	if c.instruments[InstrumentScreener].Threshold == nil {
		return nil, fmt.Errorf("catalog: screener has no threshold")
	}

	for _, def := range f.Instruments {
		inst := c.instruments[def.ID]
		if len(def.CarryOver) > 0 && def.ID == InstrumentScreener {
			return nil, fmt.Errorf("catalog: screener cannot carry over from itself")
		}
		for _, co := range def.CarryOver {
			q, ok := byCode[co.ScreenerQuestion]
			if !ok || q.InstrumentID != InstrumentScreener {
				return nil, fmt.Errorf("catalog: %s carries over unknown screener question %q", def.ID, co.ScreenerQuestion)
			}
			inst.CarryOver = append(inst.CarryOver, CarryOver{ScreenerQuestion: q, QuestionCode: q.Code, Slot: co.Slot})
		}
		sort.Slice(inst.CarryOver, func(i, j int) bool { return inst.CarryOver[i].Slot < inst.CarryOver[j].Slot })
		for i, co := range inst.CarryOver {
			if co.Slot != i {
				return nil, fmt.Errorf("catalog: %s carry-over slots must be 0..%d", def.ID, len(inst.CarryOver)-1)
			}
		}
	}

	sort.SliceStable(c.order, func(i, j int) bool { return cascadeIndex(c.order[i]) < cascadeIndex(c.order[j]) })
	return c, nil
}

func buildQuestion(instrument InstrumentID, index int, def questionDef, sets map[string][]answerDef) (*Question, error) {
	if def.Code == "" {
		return nil, fmt.Errorf("catalog: %s question %d has no code", instrument, index+1)
	}
	options, ok := sets[def.Answers]
	if !ok || len(options) == 0 {
		return nil, fmt.Errorf("catalog: question %s uses unknown answer set %q", def.Code, def.Answers)
	}

	q := &Question{
		ID:           uuid.NewSHA1(catalogNamespace, []byte(def.Code)),
		InstrumentID: instrument,
		Code:         def.Code,
		Text:         def.Text,
		DisplayOrder: index + 1,
	}
	crisis := make(map[string]bool, len(def.Crisis))
	for _, code := range def.Crisis {
		crisis[code] = true
	}
	for ai, opt := range options {
		code := def.Code + "." + opt.Code
		q.Answers = append(q.Answers, &Answer{
			ID:           uuid.NewSHA1(catalogNamespace, []byte(code)),
			QuestionID:   q.ID,
			Code:         code,
			Label:        opt.Label,
			Points:       opt.Points,
			Crisis:       crisis[opt.Code],
			DisplayOrder: ai + 1,
		})
		delete(crisis, opt.Code)
	}
	for code := range crisis {
		return nil, fmt.Errorf("catalog: question %s flags unknown answer %q", def.Code, code)
	}
	return q, nil
}

func cascadeIndex(id InstrumentID) int {
	for i, c := range CascadeOrder {
		if c == id {
			return i
		}
	}
	return len(CascadeOrder)
}

// Instruments returns every instrument in cascade order.
func (c *Catalog) Instruments() []*Instrument {
	out := make([]*Instrument, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.instruments[id])
	}
	return out
}

func (c *Catalog) Instrument(id InstrumentID) (*Instrument, bool) {
	inst, ok := c.instruments[id]
	return inst, ok
}

func (c *Catalog) Question(id uuid.UUID) (*Question, bool) {
	q, ok := c.questions[id]
	return q, ok
}

func (c *Catalog) QuestionByCode(code string) (*Question, bool) {
	q, ok := c.byCode[code]
	return q, ok
}

func (c *Catalog) Answer(id uuid.UUID) (*Answer, bool) {
	a, ok := c.answers[id]
	return a, ok
}

// Resolve looks an instrument up by either of its identifiers.
func (c *Catalog) Resolve(ref Identifier) (*Instrument, error) {
	var (
		inst *Instrument
		ok   bool
	)
	switch ref.kind {
	case identifierByID:
		inst, ok = c.instruments[ref.id]
	case identifierByURLName:
		inst, ok = c.byURLName[ref.urlName]
	}
	if !ok {
		return nil, newValidationError("instrument", fmt.Sprintf("unknown instrument %s", ref))
	}
	return inst, nil
}

type identifierKind int

const (
	identifierNone identifierKind = iota
	identifierByID
	identifierByURLName
)

// Identifier refers to an instrument either by its enum value or by the
// short name used in URLs.
type Identifier struct {
	kind    identifierKind
	id      InstrumentID
	urlName string
}

func ByID(id InstrumentID) Identifier {
	return Identifier{kind: identifierByID, id: id}
}

func ByURLName(name string) Identifier {
	return Identifier{kind: identifierByURLName, urlName: name}
}

// ParseIdentifier accepts either an instrument id ("DEPTH_ANXIETY") or a
// url name ("gad7").
func ParseIdentifier(s string) Identifier {
	if id := InstrumentID(s); id.Valid() {
		return ByID(id)
	}
	return ByURLName(s)
}

func (i Identifier) String() string {
	switch i.kind {
	case identifierByID:
		return string(i.id)
	case identifierByURLName:
		return fmt.Sprintf("%q", i.urlName)
	}
	return "<none>"
}
