package planner

import (
	"testing"

	"cardql/internal/cardschema"

	"github.com/stretchr/testify/assert"
)

func TestPathRender(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
		opts  RenderOptions
		want  string
	}{
		{"record", nil, RenderOptions{}, `"cards"`},
		{"text column", []Step{Key("slug")}, RenderOptions{}, `"cards"."slug"`},
		{"uuid as text", []Step{Key("id")}, RenderOptions{AsText: true}, `"cards"."id"::text`},
		{"timestamp as text", []Step{Key("created_at")}, RenderOptions{AsText: true}, `(to_jsonb("cards"."created_at") #>> '{}')`},
		{"version", []Step{Key("version")}, RenderOptions{}, `concat_ws('.', "cards"."version_major", "cards"."version_minor", "cards"."version_patch")`},
		{"document property", []Step{Key("data"), Key("status")}, RenderOptions{}, `("cards"."data"->'status')`},
		{"document property as text", []Step{Key("data"), Key("a"), Key("b")}, RenderOptions{AsText: true}, `("cards"."data"->'a'->>'b')`},
		{"document index", []Step{Key("data"), Key("list"), Index(2)}, RenderOptions{}, `("cards"."data"->'list'->2)`},
		{"text array element", []Step{Key("tags"), Index(0)}, RenderOptions{}, `"cards"."tags"[1]`},
		{"jsonb array element property", []Step{Key("requires"), Index(1), Key("slug")}, RenderOptions{AsText: true}, `(("cards"."requires"[2])->>'slug')`},
		{"below a text column", []Step{Key("slug"), Key("x")}, RenderOptions{}, `NULL::jsonb`},
		{"unknown column", []Step{Key("nope")}, RenderOptions{AsText: true}, `NULL::text`},
		{"cast", []Step{Key("data"), Key("n")}, RenderOptions{Cast: "numeric"}, `(("cards"."data"->'n'))::numeric`},
		{"quoted key", []Step{Key("data"), Key("it's")}, RenderOptions{}, `("cards"."data"->'it''s')`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewCardPath("cards")
			for _, s := range tt.steps {
				p.Push(s)
			}
			assert.Equal(t, tt.want, p.Render(tt.opts))
		})
	}
}

func TestPathClassification(t *testing.T) {
	p := NewCardPath("cards")
	assert.True(t, p.IsRecord())
	assert.True(t, p.AlwaysPresent())

	p.Push(Key("name"))
	assert.True(t, p.IsColumn())
	assert.True(t, p.Nullable())
	assert.Equal(t, cardschema.KindText, p.ValueKind())

	p.SetLast(Key("data"))
	assert.True(t, p.IsJSON())
	assert.False(t, p.IsDocumentValue())

	p.Push(Key("x"))
	assert.True(t, p.IsDocumentValue())
	assert.False(t, p.AlwaysPresent())

	p.Pop()
	p.Pop()
	assert.True(t, p.IsRecord())
	assert.Equal(t, cardschema.Column{}, p.Column())

	p.Push(Key("version"))
	assert.True(t, p.IsVersion())
	assert.Equal(t, "cards.version", p.String())
}

func TestPathPopAtRootPanics(t *testing.T) {
	assert.Panics(t, func() { NewCardPath("cards").Pop() })
}

func TestElementPath(t *testing.T) {
	p := NewElementPath("item_1", cardschema.KindJSON)
	assert.Equal(t, `"item_1"."value"`, p.Render(RenderOptions{}))
	assert.Equal(t, `("item_1"."value" #>> '{}')`, p.Render(RenderOptions{AsText: true}))
	p.Push(Key("slug"))
	assert.Equal(t, `("item_1"."value"->>'slug')`, p.Render(RenderOptions{AsText: true}))

	text := NewElementPath("item_2", cardschema.KindText)
	assert.Equal(t, `"item_2"."value"`, text.Render(RenderOptions{AsText: true}))
	text.Push(Key("x"))
	assert.True(t, text.IsMissing())
}

func TestPushCardProperty(t *testing.T) {
	p := NewCardPath("cards")
	assert.Equal(t, 1, pushCardProperty(p, "slug"))
	p.Pop()
	assert.Equal(t, 2, pushCardProperty(p, "status"))
	assert.Equal(t, `("cards"."data"->'status')`, p.Render(RenderOptions{}))
}
