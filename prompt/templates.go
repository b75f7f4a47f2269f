package prompt

import "text/template"

var strictTmpl = template.Must(template.New("strict").Parse(`{{- if .Schema}}
The answer must be a JSON object matching this JSON Schema:
{{.Schema}}
{{end}}
Output only minified JSON on a single line. Do not write any prose before or after it. Do not use markdown code fences.
Wrap the JSON in the delimiters shown here, with nothing outside them:
{{.Open}}{{.Template}}{{.Close}}`))

var reformatTmpl = template.Must(template.New("reformat").Parse(`The text below was meant to be a JSON object for "{{.Name}}" but it could not be parsed.
Rewrite it as that JSON object. Keep its content; do not invent new material.

Text:
{{.Malformed}}`))

var proseContinueTmpl = template.Must(template.New("continue_prose").Parse(`Your previous answer stopped before it was finished. Continue it from where it stopped.
Add only new content. Do not repeat anything you already wrote and do not restate the question.
Do not mention buttons, screens, menus, or any other app navigation.
{{- if .ExpectList}}
Keep using the same bulleted list format.
{{- end}}

The answer so far ends with:
{{.Tail}}`))

var jsonContinueTmpl = template.Must(template.New("continue_json").Parse(`Your previous answer was cut off in the middle of the JSON.
Continue exactly where it stopped, character for character, without repeating anything already written.
Finish the JSON object and end with {{.Close}}.

The answer so far ends with:
{{.Tail}}`))
