package evaluation

import (
	"fmt"
	"strings"

	"github.com/yoockh/mockmate/internal/models"
)

func questionsPrompt(role string, count int) string {
	return fmt.Sprintf(
		"Generate %d technical interview questions for the role of a %s. "+
			"Each question should be clear and relevant to assess a candidate's practical understanding. "+
			"Return one question per line with no introduction or closing remarks.",
		count, role)
}

func evaluationPrompt(pairs []models.QAPair, role string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluate the following answers for a %s interview.\n\n", role)
	for i, p := range pairs {
		fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n\n", i+1, p.Question, i+1, p.Answer)
	}
	b.WriteString("Give your feedback as one clear paragraph covering all answers. ")
	b.WriteString("Then, on its own final line, give an overall score in the exact form \"Score: NN/100\".")
	return b.String()
}
