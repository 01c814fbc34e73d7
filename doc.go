/*
Package stencil provides validated, debounced editing sessions for template
variables, with optional hot reload of template definitions.

stencil is designed to be embedded within hosts that let users fill in
template placeholders, not run as a standalone service. A Template is parsed
from text containing {{variable}} placeholders, a Session binds each variable
to a validated edit stream, and a Damper absorbs keystroke-rate input so
downstream consumers only see settled values.

# Basic Usage

Parse a template and open an editing session:

	tmpl := stencil.Parse("Hello {{name}}, welcome to {{product}}!")

	session := stencil.NewSession(tmpl).
	    Delay(300 * time.Millisecond).
	    OnChange(func(name, value string) {
	        preview.Update(name, value)
	    })

	if err := session.Start(ctx); err != nil {
	    log.Fatal(err)
	}
	defer session.Close()

Feed edits as the user types; commits arrive debounced:

	session.Set(ctx, "name", "A")
	session.Set(ctx, "name", "Ad")
	session.Set(ctx, "name", "Ada")
	// After the quiet period, OnChange fires once with "Ada".

# Validation

Each variable carries validation options. Rules run in a fixed order and
all failures are collected:

	res := stencil.Validate(v, value, stencil.Options{
	    MaxLength: 50,
	    MinLength: 2,
	    Pattern:   regexp.MustCompile(`^[a-z]+$`),
	})
	if !res.Valid {
	    for _, e := range res.Errors {
	        fmt.Println(e.Error())
	    }
	}

Session state per variable is available at any time:

	snap := session.Snapshot("name")
	fmt.Println(snap.Valid, snap.Dirty, snap.Status)

# Promotion

Valid, modified values can be promoted to a backing store:

	session = session.Store(stencil.NewMemoryStore())
	...
	if err := session.Promote(ctx, "name"); err != nil {
	    // rejected: invalid, unmodified, or store write failed
	}

# Manifests and Hot Reload

Templates can be defined in YAML or JSON manifests and reloaded on change
with automatic rollback on failure:

	reloader := stencil.NewReloader(
	    stencil.NewFileSource("template.yaml"),
	    func(ctx context.Context, prev, curr *stencil.Template) error {
	        return host.SwapTemplate(curr)
	    },
	).Debounce(200 * time.Millisecond)

	if err := reloader.Start(ctx); err != nil {
	    log.Printf("initial load failed: %v", err)
	    // reloader keeps watching; last valid template is retained
	}

# Observability

All lifecycle events are emitted as capitan signals. Hook them for logging
or metrics:

	capitan.Hook(stencil.DamperCommitted, func(ctx context.Context, e *capitan.Event) {
	    name, _ := stencil.KeyVariable.From(e)
	    log.Printf("committed: %s", name)
	})

The package is built on top of:
  - capitan: For signal-based observability
  - clockz: For testable time operations
*/
package stencil
