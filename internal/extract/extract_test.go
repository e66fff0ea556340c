package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/llm"
	"github.com/JakeFAU/catalog-harvester/internal/schema"
)

const productPage = `<html><head><title>Shoe</title></head><body>
<div class="product">
  <h1>Trail Shoe</h1>
  <span class="price">19.99 USD</span>
  <p class="description">  Light   and fast. </p>
  <img src="/img/shoe.png">
</div>
</body></html>`

func page(url, html string) crawler.PageResult {
	return crawler.PageResult{URL: url, FinalURL: url, Success: true, StatusCode: 200, HTML: html}
}

func TestNewSelectsStrategy(t *testing.T) {
	t.Parallel()

	s := schema.Product()
	ex, err := New(Config{}, s, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &CSS{}, ex)

	ex, err = New(Config{Strategy: "embedded"}, s, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &Embedded{}, ex)

	_, err = New(Config{Strategy: "llm", Model: "m"}, s, nil, nil)
	require.Error(t, err)
	_, err = New(Config{Strategy: "llm"}, s, &fakeCompleter{}, nil)
	require.Error(t, err)
	ex, err = New(Config{Strategy: "LLM", Model: "m"}, s, &fakeCompleter{}, nil)
	require.NoError(t, err)
	require.IsType(t, &LLM{}, ex)

	_, err = New(Config{Strategy: "xpath"}, s, nil, nil)
	require.Error(t, err)
	_, err = New(Config{}, schema.Schema{Name: "empty"}, nil, nil)
	require.Error(t, err)
}

func TestCSSExtractsProduct(t *testing.T) {
	t.Parallel()

	css := NewCSS(".product", schema.Product(), zap.NewNop())
	records := css.Extract(context.Background(), page("https://shop.example/product/1", productPage))
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, "https://shop.example/product/1", rec.SourceURL)
	require.Equal(t, "Trail Shoe", rec.Fields["name"])
	require.Equal(t, "Light and fast.", rec.Fields["description"])
	require.Equal(t, "https://shop.example/img/shoe.png", rec.Fields["image_url"])
	require.Nil(t, rec.Fields["url"])

	validated, err := schema.Validate(rec, schema.Product(), fixedNow)
	require.NoError(t, err)
	require.Equal(t, 19.99, validated.Fields["price"])
	require.Equal(t, "https://shop.example/product/1", validated.Fields["url"])
}

func TestCSSListFields(t *testing.T) {
	t.Parallel()

	html := `<html><body><main>
<h1 class="title">Jazz Night</h1>
<ul>
  <li class="tier"><span class="n">Standard</span><span class="p">$25.00</span></li>
  <li class="tier"><span class="n">VIP</span><span class="p">$1,299.00</span></li>
</ul>
</main></body></html>`
	s := schema.Schema{
		Name:        "event",
		Table:       "events",
		ConflictKey: "url",
		Fields: []schema.Field{
			{Name: "event_name", Type: schema.TypeString, Required: true, Selector: ".title"},
			{Name: "categories", Type: schema.TypeList, Selector: "li.tier", Fields: []schema.Field{
				{Name: "category_name", Type: schema.TypeString, Selector: ".n"},
				{Name: "category_price", Type: schema.TypeNumber, Selector: ".p"},
			}},
			{Name: "url", Type: schema.TypeString},
		},
	}
	records := NewCSS("main", s, nil).Extract(context.Background(), page("https://tix.example/e/1", html))
	require.Len(t, records, 1)
	cats, ok := records[0].Fields["categories"].([]any)
	require.True(t, ok)
	require.Len(t, cats, 2)
	require.Equal(t, "VIP", cats[1].(map[string]any)["category_name"])

	validated, err := schema.Validate(records[0], s, fixedNow)
	require.NoError(t, err)
	list, ok := validated.Fields["categories"].([]map[string]any)
	require.True(t, ok)
	require.Equal(t, 1299.0, list[1]["category_price"])
}

func TestCSSNoMatchIsEmpty(t *testing.T) {
	t.Parallel()

	css := NewCSS(".missing", schema.Product(), nil)
	require.Empty(t, css.Extract(context.Background(), page("https://a.example/", productPage)))
	require.Empty(t, css.Extract(context.Background(), crawler.PageResult{URL: "https://a.example/", Error: "boom"}))
}

func TestEmbeddedNextData(t *testing.T) {
	t.Parallel()

	html := `<html><body><script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"products":[
  {"name":"A","offers":{"price":"19.99 USD"},"image":"https://cdn.example/a.png","url":"https://shop.example/a"},
  {"name":"B","offers":{"price":5},"url":"https://shop.example/b"},
  {"other":true}
]}}}
</script></body></html>`
	e := NewEmbedded("", "props.pageProps.products", schema.Product(), nil)
	records := e.Extract(context.Background(), page("https://shop.example/list", html))
	require.Len(t, records, 2)
	require.Equal(t, "A", records[0].Fields["name"])
	require.Equal(t, "19.99 USD", records[0].Fields["price"])
	require.Equal(t, "https://cdn.example/a.png", records[0].Fields["image_url"])
	require.Equal(t, "https://shop.example/b", records[1].Fields["url"])
	require.Nil(t, records[1].Fields["description"])
}

func TestEmbeddedJSONLDSingleObject(t *testing.T) {
	t.Parallel()

	html := `<html><head>
<script type="application/ld+json">{"@type":"BreadcrumbList"</script>
<script type="application/ld+json">{"@type":"Product","name":"Lamp","offers":{"price":"42"}}</script>
</head><body></body></html>`
	e := NewEmbedded(`script[type="application/ld+json"]`, "", schema.Product(), nil)
	records := e.Extract(context.Background(), page("https://shop.example/lamp", html))
	require.Len(t, records, 1)
	require.Equal(t, "Lamp", records[0].Fields["name"])
	require.Equal(t, "42", records[0].Fields["price"])
}

func TestEmbeddedMissingPayload(t *testing.T) {
	t.Parallel()

	e := NewEmbedded("", "props", schema.Product(), nil)
	require.Empty(t, e.Extract(context.Background(), page("https://a.example/", productPage)))

	html := `<script id="__NEXT_DATA__">{"props":{}}</script>`
	require.Empty(t, NewEmbedded("", "props.items", schema.Product(), nil).
		Extract(context.Background(), page("https://a.example/", html)))
}

func TestLookupPath(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"a": map[string]any{"b": []any{"x", map[string]any{"c": 3.0}}},
	}
	v, ok := lookupPath(doc, "a.b.1.c")
	require.True(t, ok)
	require.Equal(t, 3.0, v)

	v, ok = lookupPath(doc, "")
	require.True(t, ok)
	require.Equal(t, doc, v)

	for _, path := range []string{"a.z", "a.b.9", "a.b.-1", "a.b.x", "a..b", "a.b.0.c"} {
		_, ok := lookupPath(doc, path)
		require.False(t, ok, path)
	}
}

type fakeCompleter struct {
	reply string
	err   error
	got   llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.got = req
	return f.reply, f.err
}

func TestLLMExtract(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{reply: "```json\n[{\"name\":\"Trail Shoe\",\"price\":\"19.99 USD\"}]\n```"}
	l := NewLLM(Config{Model: "gpt-oss:20b-cloud", Temperature: 0.1, MaxInputChars: 10}, schema.Product(), fc, nil)

	p := page("https://shop.example/product/1", productPage)
	p.Markdown = "Trail Shoe 19.99 USD and a long tail of text"
	records := l.Extract(context.Background(), p)
	require.Len(t, records, 1)
	require.Equal(t, "Trail Shoe", records[0].Fields["name"])

	require.Equal(t, "gpt-oss:20b-cloud", fc.got.Model)
	require.Len(t, fc.got.Messages, 2)
	require.Equal(t, llm.RoleSystem, fc.got.Messages[0].Role)
	user := fc.got.Messages[1].Content
	require.Contains(t, user, "- price (number, required)")
	require.Contains(t, user, "Trail Shoe")
	require.NotContains(t, user, "long tail")
}

func TestLLMFailuresAreEmpty(t *testing.T) {
	t.Parallel()

	p := page("https://shop.example/product/1", productPage)
	p.Markdown = "text"

	l := NewLLM(Config{Model: "m"}, schema.Product(), &fakeCompleter{err: errors.New("down")}, nil)
	require.Empty(t, l.Extract(context.Background(), p))

	l = NewLLM(Config{Model: "m"}, schema.Product(), &fakeCompleter{reply: "I cannot help"}, nil)
	require.Empty(t, l.Extract(context.Background(), p))

	l = NewLLM(Config{Model: "m"}, schema.Product(), &fakeCompleter{reply: "[]"}, nil)
	require.Empty(t, l.Extract(context.Background(), p))
}

func TestParseObjects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		reply string
		want  int
	}{
		{"array", `[{"a":1},{"a":2}]`, 2},
		{"wrapped", `{"products":[{"a":1},{"a":2},{"a":3}]}`, 3},
		{"single", `{"a":1,"b":[1,2]}`, 1},
		{"fenced", "```\n{\"a\":1}\n```", 1},
		{"prose around", "Here you go: [{\"a\":1}] hope that helps", 1},
		{"non objects skipped", `[1,"x",{"a":1}]`, 1},
	}
	for _, tc := range cases {
		got, err := parseObjects(tc.reply)
		require.NoError(t, err, tc.name)
		require.Len(t, got, tc.want, tc.name)
	}

	for _, bad := range []string{"", "   ", "no json", `"string"`, "42"} {
		_, err := parseObjects(bad)
		require.Error(t, err, bad)
	}
}
