package quiz

import (
	"bytes"
	"html/template"
)

// quizTemplate is the stable markup clients attach navigation to: one
// .quiz-question per question (only the first visible), radio inputs named
// q<index>, and prev/next/submit controls.
var quizTemplate = template.Must(template.New("quiz").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`<div class="quiz-container" data-total="{{len .}}">
{{- range $i, $q := .}}
<div class="quiz-question{{if eq $i 0}} active{{end}}" data-index="{{$i}}" data-answer="{{$q.Answer}}"{{if ne $i 0}} hidden{{end}}>
<p class="question-text">{{inc $i}}. {{$q.Question}}</p>
<div class="quiz-options">
{{- range $j, $o := $q.Options}}
<label class="quiz-option"><input type="radio" name="q{{$i}}" value="{{$j}}"> {{$o}}</label>
{{- end}}
</div>
</div>
{{- end}}
<div class="quiz-nav">
<button type="button" class="quiz-prev" disabled>Previous</button>
<span class="quiz-progress">1 / {{len .}}</span>
<button type="button" class="quiz-next">Next</button>
<button type="button" class="quiz-submit">Submit</button>
</div>
<div class="quiz-result" hidden></div>
</div>`))

// RenderHTML renders questions to the quiz markup. Question and option text
// is HTML-escaped.
func RenderHTML(questions []Question) (string, error) {
	var buf bytes.Buffer
	if err := quizTemplate.Execute(&buf, questions); err != nil {
		return "", err
	}
	return buf.String(), nil
}
