// Package compliance manages EU AI Act compliance state per agent: a risk
// profile, conformity assessments (Article 43) and Annex V declarations of
// conformity. Declarations auto-issue a compliance credential.
package compliance

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/pkg/credential"
	"github.com/VibeTensor/attestix/pkg/identity"
	"github.com/VibeTensor/attestix/pkg/provenance"
	"github.com/VibeTensor/attestix/pkg/signed"
	"github.com/VibeTensor/attestix/pkg/store"
)

var (
	ErrNotFound   = errors.New("compliance: not found")
	ErrValidation = errors.New("compliance: validation failed")
	ErrPolicy     = errors.New("compliance: policy violation")
)

var (
	validRiskCategories   = map[string]bool{"minimal": true, "limited": true, "high": true, "unacceptable": true}
	validAssessmentTypes  = map[string]bool{"self": true, "third_party": true}
	validAssessmentResult = map[string]bool{"pass": true, "conditional": true, "fail": true}
)

// Provider is the legal entity responsible for the AI system.
type Provider struct {
	Name string `json:"name"`
	DID  string `json:"did"`
}

// AISystem describes the system the profile covers.
type AISystem struct {
	IntendedPurpose string `json:"intended_purpose"`
	DisplayName     string `json:"display_name"`
}

// Transparency holds the declared transparency and oversight measures.
type Transparency struct {
	Obligations            string `json:"obligations"`
	HumanOversightMeasures string `json:"human_oversight_measures"`
}

// Conformity is the mutable assessment/declaration state of a profile;
// excluded from the profile signature together with updated_at.
type Conformity struct {
	AssessmentCompleted bool    `json:"assessment_completed"`
	AssessmentID        *string `json:"assessment_id"`
	DeclarationID       *string `json:"declaration_id"`
	CEMarkingEligible   bool    `json:"ce_marking_eligible"`
}

// Profile is one agent's EU AI Act compliance profile.
type Profile struct {
	ProfileID           string       `json:"profile_id"`
	AgentID             string       `json:"agent_id"`
	RiskCategory        string       `json:"risk_category"`
	Provider            Provider     `json:"provider"`
	AISystem            AISystem     `json:"ai_system"`
	Transparency        Transparency `json:"transparency"`
	RequiredObligations []string     `json:"required_obligations"`
	Conformity          Conformity   `json:"conformity"`
	CreatedAt           string       `json:"created_at"`
	UpdatedAt           string       `json:"updated_at"`
	Signature           string       `json:"signature"`
}

// Assessment is an append-only conformity assessment record.
type Assessment struct {
	AssessmentID      string `json:"assessment_id"`
	AgentID           string `json:"agent_id"`
	AssessmentType    string `json:"assessment_type"`
	AssessorName      string `json:"assessor_name"`
	Result            string `json:"result"`
	Findings          string `json:"findings"`
	CEMarkingEligible bool   `json:"ce_marking_eligible"`
	AssessedAt        string `json:"assessed_at"`
	AssessedBy        string `json:"assessed_by"`
	Signature         string `json:"signature"`
}

// Declaration is an Annex V declaration of conformity.
type Declaration struct {
	DeclarationID string                 `json:"declaration_id"`
	AgentID       string                 `json:"agent_id"`
	AnnexVFields  map[string]interface{} `json:"annex_v_fields"`
	IssuedAt      string                 `json:"issued_at"`
	IssuerDID     string                 `json:"issuer_did"`
	Signature     string                 `json:"signature"`
}

type complianceFile struct {
	Profiles     []*Profile     `json:"profiles"`
	Assessments  []*Assessment  `json:"assessments"`
	Declarations []*Declaration `json:"declarations"`
}

// Service owns the compliance collection and coordinates with the
// identity, credential and provenance services.
type Service struct {
	kernel      *signed.Kernel
	col         *store.Collection
	identities  *identity.Service
	credentials *credential.Service
	provenance  *provenance.Service
}

func NewService(kernel *signed.Kernel, col *store.Collection, ids *identity.Service, creds *credential.Service, prov *provenance.Service) *Service {
	return &Service{kernel: kernel, col: col, identities: ids, credentials: creds, provenance: prov}
}

// ProfileParams collects the caller-supplied profile fields.
type ProfileParams struct {
	AgentID                 string
	RiskCategory            string
	ProviderName            string
	IntendedPurpose         string
	TransparencyObligations string
	HumanOversightMeasures  string
}

// CreateProfile creates the agent's compliance profile. Unacceptable-risk
// systems are prohibited outright (Article 5) and duplicates are rejected.
func (s *Service) CreateProfile(ctx context.Context, p ProfileParams) (*Profile, error) {
	if !validRiskCategories[p.RiskCategory] {
		return nil, fmt.Errorf("%w: invalid risk_category %q, use minimal|limited|high|unacceptable", ErrValidation, p.RiskCategory)
	}
	if p.RiskCategory == "unacceptable" {
		return nil, fmt.Errorf("%w: unacceptable-risk AI systems are prohibited under the EU AI Act (Article 5)", ErrPolicy)
	}

	agent, err := s.identities.Get(ctx, p.AgentID)
	if err != nil {
		return nil, err
	}

	now := nowRFC3339()
	profile := &Profile{
		ProfileID:    "comp:" + hexID(12),
		AgentID:      p.AgentID,
		RiskCategory: p.RiskCategory,
		Provider:     Provider{Name: p.ProviderName, DID: s.kernel.DID()},
		AISystem: AISystem{
			IntendedPurpose: p.IntendedPurpose,
			DisplayName:     agent.DisplayName,
		},
		Transparency: Transparency{
			Obligations:            p.TransparencyObligations,
			HumanOversightMeasures: p.HumanOversightMeasures,
		},
		RequiredObligations: RequiredObligations(p.RiskCategory),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	sig, err := s.kernel.Sign(profile, signed.ProfileMutable)
	if err != nil {
		return nil, err
	}
	profile.Signature = sig

	var f complianceFile
	err = s.col.Update(ctx, &f, func() error {
		for _, existing := range f.Profiles {
			if existing.AgentID == p.AgentID {
				return fmt.Errorf("%w: compliance profile already exists for %s", ErrValidation, p.AgentID)
			}
		}
		f.Profiles = append(f.Profiles, profile)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.identities.SetComplianceRef(ctx, p.AgentID, profile.ProfileID); err != nil {
		return nil, err
	}
	return profile, nil
}

// GetProfile returns the agent's compliance profile.
func (s *Service) GetProfile(ctx context.Context, agentID string) (*Profile, error) {
	var f complianceFile
	var found *Profile
	err := s.col.View(ctx, &f, func() error {
		for _, p := range f.Profiles {
			if p.AgentID == agentID {
				found = p
				return nil
			}
		}
		return fmt.Errorf("%w: no compliance profile for %s", ErrNotFound, agentID)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListProfiles filters profiles by risk category and declared compliance.
func (s *Service) ListProfiles(ctx context.Context, riskCategory string, compliantOnly bool, limit int) ([]*Profile, error) {
	if limit <= 0 {
		limit = 50
	}
	var f complianceFile
	results := []*Profile{}
	err := s.col.View(ctx, &f, func() error {
		for _, p := range f.Profiles {
			if riskCategory != "" && p.RiskCategory != riskCategory {
				continue
			}
			if compliantOnly && p.Conformity.DeclarationID == nil {
				continue
			}
			results = append(results, p)
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// AssessmentParams collects the caller-supplied assessment fields.
type AssessmentParams struct {
	AgentID           string
	AssessmentType    string
	AssessorName      string
	Result            string
	Findings          string
	CEMarkingEligible bool
}

// RecordAssessment appends an Article 43 conformity assessment and updates
// the profile's conformity block. High-risk systems must be assessed by a
// third party.
func (s *Service) RecordAssessment(ctx context.Context, p AssessmentParams) (*Assessment, error) {
	if !validAssessmentTypes[p.AssessmentType] {
		return nil, fmt.Errorf("%w: invalid assessment_type %q, use self|third_party", ErrValidation, p.AssessmentType)
	}
	if !validAssessmentResult[p.Result] {
		return nil, fmt.Errorf("%w: invalid result %q, use pass|conditional|fail", ErrValidation, p.Result)
	}

	now := nowRFC3339()
	assessment := &Assessment{
		AssessmentID:      "assess:" + hexID(12),
		AgentID:           p.AgentID,
		AssessmentType:    p.AssessmentType,
		AssessorName:      p.AssessorName,
		Result:            p.Result,
		Findings:          p.Findings,
		CEMarkingEligible: p.CEMarkingEligible && p.Result == "pass",
		AssessedAt:        now,
		AssessedBy:        s.kernel.DID(),
	}
	sig, err := s.kernel.Sign(assessment, signed.RecordMutable)
	if err != nil {
		return nil, err
	}
	assessment.Signature = sig

	var f complianceFile
	err = s.col.Update(ctx, &f, func() error {
		profile := findProfile(&f, p.AgentID)
		if profile == nil {
			return fmt.Errorf("%w: no compliance profile for %s, create one first", ErrNotFound, p.AgentID)
		}
		if profile.RiskCategory == "high" && p.AssessmentType == "self" {
			return fmt.Errorf("%w: High-risk AI systems require third_party conformity assessment (Article 43).", ErrPolicy)
		}

		f.Assessments = append(f.Assessments, assessment)
		profile.Conformity.AssessmentCompleted = p.Result == "pass" || p.Result == "conditional"
		profile.Conformity.AssessmentID = &assessment.AssessmentID
		profile.Conformity.CEMarkingEligible = assessment.CEMarkingEligible
		profile.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assessment, nil
}

// GenerateDeclaration stamps an Annex V declaration of conformity, links it
// to the profile, and auto-issues an EUAIActComplianceCredential. The whole
// sequence runs under the compliance lock so a concurrent assessment change
// cannot produce a declaration over stale state.
func (s *Service) GenerateDeclaration(ctx context.Context, agentID string) (*Declaration, error) {
	now := nowRFC3339()
	var decl *Declaration
	var providerName string
	var claims map[string]interface{}

	var f complianceFile
	err := s.col.Update(ctx, &f, func() error {
		profile := findProfile(&f, agentID)
		if profile == nil {
			return fmt.Errorf("%w: no compliance profile for %s", ErrNotFound, agentID)
		}
		if !profile.Conformity.AssessmentCompleted {
			return fmt.Errorf("%w: conformity assessment not completed, use record_assessment first", ErrPolicy)
		}

		var missing []string
		if strings.TrimSpace(profile.AISystem.IntendedPurpose) == "" {
			missing = append(missing, "intended_purpose")
		}
		if strings.TrimSpace(profile.Transparency.Obligations) == "" {
			missing = append(missing, "transparency_obligations")
		}
		if profile.RiskCategory == "high" {
			if strings.TrimSpace(profile.Transparency.HumanOversightMeasures) == "" {
				missing = append(missing, "human_oversight_measures")
			}
			if profile.Conformity.AssessmentID != nil {
				for _, a := range f.Assessments {
					if a.AssessmentID == *profile.Conformity.AssessmentID && a.AssessmentType != "third_party" {
						return fmt.Errorf("%w: High-risk AI systems require third_party conformity assessment (Article 43).", ErrPolicy)
					}
				}
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: missing required fields: %s", ErrPolicy, strings.Join(missing, ", "))
		}

		decl = &Declaration{
			DeclarationID: "decl:" + hexID(12),
			AgentID:       agentID,
			AnnexVFields: map[string]interface{}{
				"1_provider_name":            profile.Provider.Name,
				"2_ai_system_name":           profile.AISystem.DisplayName,
				"3_intended_purpose":         profile.AISystem.IntendedPurpose,
				"4_risk_category":            profile.RiskCategory,
				"5_conformity_assessment_id": deref(profile.Conformity.AssessmentID),
				"6_transparency_obligations": profile.Transparency.Obligations,
				"7_human_oversight":          profile.Transparency.HumanOversightMeasures,
				"8_ce_marking_eligible":      profile.Conformity.CEMarkingEligible,
				"9_declaration_date":         now,
				"10_provider_did":            profile.Provider.DID,
			},
			IssuedAt:  now,
			IssuerDID: s.kernel.DID(),
		}
		sig, err := s.kernel.Sign(decl, signed.RecordMutable)
		if err != nil {
			return err
		}
		decl.Signature = sig

		f.Declarations = append(f.Declarations, decl)
		profile.Conformity.DeclarationID = &decl.DeclarationID
		profile.UpdatedAt = now

		providerName = profile.Provider.Name
		claims = map[string]interface{}{
			"declaration_id":           decl.DeclarationID,
			"risk_category":            profile.RiskCategory,
			"conformity_assessment_id": deref(profile.Conformity.AssessmentID),
			"ce_marking_eligible":      profile.Conformity.CEMarkingEligible,
			"eu_ai_act_compliant":      true,
		}
		// Issuing the VC while the compliance lock is held keeps the
		// declaration and its credential consistent; the credentials
		// collection uses its own lock and is never acquired before this one.
		_, err = s.credentials.Issue(ctx, agentID, "EUAIActComplianceCredential", providerName, claims, 365)
		return err
	})
	if err != nil {
		return nil, err
	}
	return decl, nil
}

// Status is the gap analysis for one agent.
type Status struct {
	AgentID       string   `json:"agent_id"`
	RiskCategory  string   `json:"risk_category"`
	Compliant     bool     `json:"compliant"`
	Completed     []string `json:"completed"`
	Missing       []string `json:"missing"`
	CompletionPct float64  `json:"completion_pct"`
}

// GetStatus walks the compliance checklist for the agent and reports what
// is done and what is still missing.
func (s *Service) GetStatus(ctx context.Context, agentID string) (*Status, error) {
	profile, err := s.GetProfile(ctx, agentID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		AgentID:      agentID,
		RiskCategory: profile.RiskCategory,
		Completed:    []string{"compliance_profile_created"},
		Missing:      []string{},
	}
	check := func(name string, done bool) {
		if done {
			st.Completed = append(st.Completed, name)
		} else {
			st.Missing = append(st.Missing, name)
		}
	}

	check("intended_purpose_documented", profile.AISystem.IntendedPurpose != "")
	check("transparency_obligations_declared", profile.Transparency.Obligations != "")
	if profile.RiskCategory == "high" {
		check("human_oversight_measures", profile.Transparency.HumanOversightMeasures != "")
	}
	check("conformity_assessment_passed", profile.Conformity.AssessmentCompleted)
	check("declaration_of_conformity_issued", profile.Conformity.DeclarationID != nil)

	prov, err := s.provenance.GetProvenance(ctx, agentID)
	if err != nil {
		return nil, err
	}
	check("training_data_provenance", len(prov.TrainingData) > 0)
	check("model_lineage_recorded", len(prov.ModelLineage) > 0)

	st.Compliant = len(st.Missing) == 0
	total := len(st.Completed) + len(st.Missing)
	st.CompletionPct = round1(float64(len(st.Completed)) / float64(total) * 100)
	return st, nil
}

// RequiredObligations returns the EU AI Act obligations for a risk tier.
func RequiredObligations(riskCategory string) []string {
	base := []string{"registration_in_eu_database"}
	switch riskCategory {
	case "minimal":
		return append(base, "voluntary_code_of_conduct")
	case "limited":
		return append(base,
			"transparency_disclosure",
			"inform_users_of_ai_interaction",
		)
	case "high":
		return append(base,
			"conformity_assessment",
			"quality_management_system",
			"risk_management_system",
			"data_governance",
			"technical_documentation",
			"record_keeping",
			"transparency_to_users",
			"human_oversight",
			"accuracy_robustness_cybersecurity",
			"post_market_monitoring",
			"serious_incident_reporting",
		)
	case "unacceptable":
		return []string{"PROHIBITED_SYSTEM"}
	}
	return base
}

// RemoveAgent drops the agent's profile, assessments and declarations
// (GDPR erasure path).
func (s *Service) RemoveAgent(ctx context.Context, agentID string) (int, error) {
	var f complianceFile
	removed := 0
	err := s.col.Update(ctx, &f, func() error {
		profiles := f.Profiles[:0]
		for _, p := range f.Profiles {
			if p.AgentID == agentID {
				removed++
				continue
			}
			profiles = append(profiles, p)
		}
		f.Profiles = profiles

		assessments := f.Assessments[:0]
		for _, a := range f.Assessments {
			if a.AgentID == agentID {
				removed++
				continue
			}
			assessments = append(assessments, a)
		}
		f.Assessments = assessments

		declarations := f.Declarations[:0]
		for _, d := range f.Declarations {
			if d.AgentID == agentID {
				removed++
				continue
			}
			declarations = append(declarations, d)
		}
		f.Declarations = declarations
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func findProfile(f *complianceFile, agentID string) *Profile {
	for _, p := range f.Profiles {
		if p.AgentID == agentID {
			return p
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nowRFC3339() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

func hexID(n int) string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:n]
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
