package core

import "strings"

// OtherCategory is the display fallback for anything outside the vocabulary.
const OtherCategory = "Other"

var (
	expenseCategories = []string{"Food", "Transport", "Shopping", "Health", "Utilities", OtherCategory}
	incomeCategories  = []string{"Salary", "Business", "Investment", "Freelancing", OtherCategory}
)

// Category is a transaction category. Known categories come from the
// closed vocabulary of the transaction's kind; legacy free text is kept
// verbatim but displayed as Other.
type Category struct {
	Name  string
	Known bool
}

// Categories returns the vocabulary for kind.
func Categories(kind Kind) []string {
	src := expenseCategories
	if kind == KindIncome {
		src = incomeCategories
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// CategoryFor resolves raw against the vocabulary of kind.
func CategoryFor(kind Kind, raw string) Category {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Category{Name: OtherCategory, Known: true}
	}
	for _, name := range Categories(kind) {
		if strings.EqualFold(name, raw) {
			return Category{Name: name, Known: true}
		}
	}
	return Category{Name: raw}
}

// Display is the label shown to users and used for grouping.
func (c Category) Display() string {
	if !c.Known {
		return OtherCategory
	}
	return c.Name
}

func (c Category) String() string {
	return c.Display()
}
