package analysis

import (
	"fmt"
	"regexp"
	"strings"
)

// Field labels recognised by the structured analyzers, in fallback order
var (
	LabelsWear          = []string{"Wear and tear", "Wear"}
	LabelsDeterioration = []string{"Visible deterioration"}
	LabelsMechanical    = []string{"Mechanical issue"}
	LabelsElectrical    = []string{"Electrical issue"}
	LabelsDisassembly   = []string{"Ease of disassembly"}
	LabelsIntegration   = []string{"Level of components integration"}
	LabelsOutdated      = []string{"Outdated"}
	LabelsAge           = []string{"Product Age", "Purchase Date", "Age"}
	LabelsCondition     = []string{"Condition", "Product Condition"}
	LabelsWarranty      = []string{"Warranty Status", "Under Warranty"}
	LabelsImage         = []string{"Product Image", "Product Image (Optional)"}
)

var wearRules = ruleTable{
	{when: when(anyOf{"minor", "only cable"}), effect: ScoreVector{Repair: 4, Retain: 2}, reason: "Minor wear detected, product largely intact."},
	{when: when(anyOf{"major", "extensive"}), effect: ScoreVector{Recycle: 5, Repair: 2}, reason: "Extensive wear indicates significant use or damage."},
	{when: when(anyOf{"none", "minimal"}), effect: ScoreVector{Retain: 5}, reason: "Minimal wear, product well-maintained."},
}

var deteriorationRules = ruleTable{
	{when: when(anyOf{"low", "clean"}), effect: ScoreVector{Retain: 4, Reuse: 2}, reason: "Low deterioration, good physical condition."},
	{when: when(anyOf{"high", "severe"}), effect: ScoreVector{Recycle: 5}, reason: "High deterioration affects product viability."},
}

var (
	mechanicalNone  = anyOf{"none", "no issue"}
	mechanicalIssue = anyOf{"yes", "issue"}
	electricalIssue = anyOf{"yes", "issue"}
	electricalCable = anyOf{"cable", "wire"}
)

var mechanicalRules = ruleTable{
	{when: when(mechanicalNone), effect: ScoreVector{Retain: 5, Reuse: 3}, reason: "No mechanical issues, core functionality intact."},
	{when: when(mechanicalIssue), effect: ScoreVector{Repair: 4, Recycle: 2}, reason: "Mechanical issues present."},
}

var electricalRules = ruleTable{
	{
		when:     when(electricalIssue, electricalCable, anyOf{"repairable", "but is repairable"}),
		effect:   ScoreVector{Repair: 7 + 5},
		critical: "Electrical issue is confirmed repairable (cable replacement).",
	},
	{when: when(electricalIssue, electricalCable), effect: ScoreVector{Repair: 7}, reason: "Cable damage detected, typically repairable component."},
	{when: when(electricalIssue), effect: ScoreVector{Repair: 4, Recycle: 3}, reason: "Electrical issue requires assessment."},
	{when: when(anyOf{"none", "no"}), effect: ScoreVector{Retain: 4}},
}

// electricalOnlyRule fires when the only functional fault is electrical
var electricalOnlyRule = rule{
	effect:   ScoreVector{Repair: 4},
	critical: "Only electrical issue with intact mechanics - ideal for repair.",
}

var disassemblyRules = ruleTable{
	{when: when(anyOf{"high", "easy", "can be unplugged"}), effect: ScoreVector{Repair: 5}, reason: "Easy disassembly makes repair practical and cost-effective."},
	{when: when(anyOf{"low", "difficult"}), effect: ScoreVector{Recycle: 3, Reuse: 2}, reason: "Difficult disassembly increases repair complexity."},
}

var integrationRules = ruleTable{
	{when: when(anyOf{"low", "separate component"}), effect: ScoreVector{Repair: 4}, reason: "Modular design allows component-level repair."},
	{when: when(anyOf{"high", "integrated"}), effect: ScoreVector{Recycle: 2}},
}

var outdatedRules = ruleTable{
	{when: when(anyOf{"no", "modern", "current model"}), effect: ScoreVector{Retain: 4, Repair: 2}, reason: "Modern design still current, retains value."},
	{when: when(anyOf{"yes", "obsolete"}), effect: ScoreVector{Reuse: 5, Recycle: 3}, reason: "Outdated model better suited for reuse or recycling."},
}

var conditionRules = ruleTable{
	{when: when(anyOf{"excellent", "like new"}), effect: ScoreVector{Retain: 8}, reason: "Excellent condition warrants retention."},
	{when: when(anyOf{"good"}), effect: ScoreVector{Retain: 5, Reuse: 3}, reason: "Good overall condition supports retention or reuse."},
	{when: when(anyOf{"fair", "average"}), effect: ScoreVector{Reuse: 5, Repair: 4}, reason: "Fair condition suggests repair or reuse options."},
	{when: when(anyOf{"poor"}), effect: ScoreVector{Repair: 5, Recycle: 3}, reason: "Poor condition may require significant repair."},
	{when: when(anyOf{"broken"}), effect: ScoreVector{Recycle: 8}, reason: "Broken condition indicates recycling as primary option."},
}

var warrantyRules = ruleTable{
	{when: when(anyOf{"yes", "active"}), effect: ScoreVector{Repair: 6, Retain: 4}, reason: "Active warranty enables free or low-cost repair."},
	{when: when(anyOf{"no", "expired"}), effect: ScoreVector{Reuse: 2}, reason: "Expired warranty, self-funded repair or reuse considered."},
}

// AnalyzeAppearance scores wear and visible deterioration; the two checks stack
func AnalyzeAppearance(s Submission) Fragment {
	frag := Fragment{Source: "appearance"}
	wearRules.apply(&frag, s.lowerField(LabelsWear...))
	deteriorationRules.apply(&frag, s.lowerField(LabelsDeterioration...))
	return frag
}

// AnalyzeFunctionality scores mechanical and electrical faults independently,
// then boosts repair when an electrical fault comes with intact mechanics.
func AnalyzeFunctionality(s Submission) Fragment {
	frag := Fragment{Source: "functionality"}
	mechanical := s.lowerField(LabelsMechanical...)
	electrical := s.lowerField(LabelsElectrical...)

	mechanicalRules.apply(&frag, mechanical)
	electricalRules.apply(&frag, electrical)

	if electricalIssue.match(electrical) && mechanicalNone.match(mechanical) {
		frag.Scores = frag.Scores.Merge(electricalOnlyRule.effect)
		if frag.CriticalFactor == "" {
			frag.CriticalFactor = electricalOnlyRule.critical
		}
	}
	return frag
}

// AnalyzeRepairability scores ease of disassembly and component integration
func AnalyzeRepairability(s Submission) Fragment {
	frag := Fragment{Source: "repairability"}
	disassemblyRules.apply(&frag, s.lowerField(LabelsDisassembly...))
	integrationRules.apply(&frag, s.lowerField(LabelsIntegration...))
	return frag
}

func AnalyzeOutdated(s Submission) Fragment {
	frag := Fragment{Source: "outdated"}
	outdatedRules.apply(&frag, s.lowerField(LabelsOutdated...))
	return frag
}

func AnalyzeCondition(s Submission) Fragment {
	frag := Fragment{Source: "condition"}
	conditionRules.apply(&frag, s.lowerField(LabelsCondition...))
	return frag
}

func AnalyzeWarranty(s Submission) Fragment {
	frag := Fragment{Source: "warranty"}
	warrantyRules.apply(&frag, s.lowerField(LabelsWarranty...))
	return frag
}

var mediaExtension = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|mp4|mov)`)

// CountMedia counts string values that reference an upload or a media file
func CountMedia(s Submission) int {
	n := 0
	for _, v := range s {
		value, ok := v.(string)
		if !ok {
			continue
		}
		if strings.Contains(value, UploadMarker) || mediaExtension.MatchString(value) {
			n++
		}
	}
	return n
}

// AnalyzeMedia notes attached photos or videos. It never scores.
func AnalyzeMedia(s Submission) Fragment {
	frag := Fragment{Source: "media"}
	n := CountMedia(s)
	if n == 0 {
		return frag
	}
	plural := ""
	if n > 1 {
		plural = "s"
	}
	frag.Reasoning = fmt.Sprintf("Visual documentation provided (%d file%s) for condition assessment.", n, plural)
	return frag
}
