package safety

// Risk categories scored by the probabilistic stage.
const (
	CategoryViolence = "violence"
	CategorySexual   = "sexual"
	CategoryHate     = "hate"
	CategorySelfHarm = "self_harm"
)

// blockedTerms reject a prompt outright. Terms are stored case-folded.
var blockedTerms = map[string]string{
	"beheading":          CategoryViolence,
	"dismemberment":      CategoryViolence,
	"torture porn":       CategoryViolence,
	"child sexual":       CategorySexual,
	"sexual minor":       CategorySexual,
	"ethnic cleansing":   CategoryHate,
	"racial slur":        CategoryHate,
	"suicide tutorial":   CategorySelfHarm,
	"self-harm tutorial": CategorySelfHarm,
}

// moderateTerms flag a prompt as borderline, forcing the probabilistic stage
// to weigh in before approval.
var moderateTerms = map[string]string{
	"blood":      CategoryViolence,
	"gore":       CategoryViolence,
	"gunfight":   CategoryViolence,
	"massacre":   CategoryViolence,
	"nude":       CategorySexual,
	"erotic":     CategorySexual,
	"seductive":  CategorySexual,
	"supremacy":  CategoryHate,
	"extremist":  CategoryHate,
	"suicide":    CategorySelfHarm,
	"self harm":  CategorySelfHarm,
	"overdose":   CategorySelfHarm,
	"starvation": CategorySelfHarm,
}
