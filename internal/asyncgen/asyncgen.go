// Package asyncgen renders wrappers that offload a native call to the
// runtime worker pool.
package asyncgen

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/bridge"
)

// CopySuffix names the owned copy of a reference parameter.
const CopySuffix = "Copy"

// CallbackImport is the package exporting the C entry points streams are
// fed through.
const CallbackImport = "github.com/layola13/autozig/rt/callback"

// Apply renders the body of every asynchronous spec in place.
func Apply(specs []*bridge.Spec) error {
	for _, spec := range specs {
		if !spec.Wrapper.Async || spec.Source != "" {
			continue
		}
		if err := Render(spec); err != nil {
			return err
		}
	}
	return nil
}

// Render replaces spec.Body with an offloading body. The wrapper takes a
// leading ctx context.Context and returns an additional error.
//
// Slices and strings are copied before the call leaves the caller, so the
// offloaded task never aliases caller memory. Mutable slices are copied
// back only when the call completes.
func Render(spec *bridge.Spec) error {
	if !spec.Wrapper.Async {
		return fmt.Errorf("asyncgen: %s is not asynchronous", spec.Wrapper.Name)
	}

	var b strings.Builder
	renamed := map[string]string{}
	var copyBack []string
	for _, p := range spec.Wrapper.Params {
		switch p.Type.Kind {
		case bridge.KindSlice:
			renamed[p.Name] = p.Name + CopySuffix
			fmt.Fprintf(&b, "%s := slices.Clone(%s)\n", p.Name+CopySuffix, p.Name)
			if p.Type.Mutable {
				copyBack = append(copyBack, fmt.Sprintf("copy(%s, %s)", p.Name, p.Name+CopySuffix))
			}
		case bridge.KindString:
			renamed[p.Name] = p.Name + CopySuffix
			fmt.Fprintf(&b, "%s := strings.Clone(%s)\n", p.Name+CopySuffix, p.Name)
		}
	}
	rename := func(name string) string {
		if r, ok := renamed[name]; ok {
			return r
		}
		return name
	}

	if spec.Return.Strategy == bridge.StrategyStream {
		renderStream(&b, spec, rename)
		spec.Body = b.String()
		Logger().Debug("rendered stream wrapper",
			zap.String("wrapper", spec.Wrapper.Name),
			zap.Int("copied", len(renamed)),
		)
		return nil
	}

	void := spec.Return.Strategy == bridge.StrategyVoid
	resultType := spec.Wrapper.Result.Go
	if void {
		resultType = "struct{}"
	}

	lhs := bridge.RawResult + ", err"
	if void {
		lhs = "_, err"
	}
	fmt.Fprintf(&b, "%s := rt.Run(ctx, rt.DefaultPool(), func() %s {\n", lhs, resultType)
	for _, p := range spec.Params {
		if p.Strategy == bridge.StrategyHandle {
			fmt.Fprintf(&b, "defer runtime.KeepAlive(%s)\n", p.Param.Name)
		}
	}
	if void {
		b.WriteString(spec.Call(rename) + "\nreturn struct{}{}\n")
	} else {
		b.WriteString(spec.SyncBody(rename) + "\n")
	}
	b.WriteString("})\n")

	if void {
		b.WriteString("if err != nil {\nreturn err\n}\n")
	} else {
		fmt.Fprintf(&b, "if err != nil {\nvar zero %s\nreturn zero, err\n}\n", resultType)
	}
	for _, line := range copyBack {
		b.WriteString(line + "\n")
	}
	if void {
		b.WriteString("return nil")
	} else {
		b.WriteString("return " + bridge.RawResult + ", nil")
	}

	spec.Body = b.String()
	Logger().Debug("rendered async wrapper",
		zap.String("wrapper", spec.Wrapper.Name),
		zap.Int("copied", len(renamed)),
		zap.Int("copied_back", len(copyBack)),
	)
	return nil
}

// renderStream registers a stream with the callback package and starts
// the native producer on the default pool. The producer owns the copied
// arguments until it returns.
func renderStream(b *strings.Builder, spec *bridge.Spec, rename func(string) string) {
	resultType := spec.Wrapper.Result.Go
	fmt.Fprintf(b, "stream := rt.NewStream[%s](0)\n", spec.Wrapper.Result.Elem.Go)
	fmt.Fprintf(b, "%s := callback.Attach(stream)\n", bridge.SinkParam)
	b.WriteString("if err := stream.Produce(ctx, rt.DefaultPool(), func() {\n")
	fmt.Fprintf(b, "defer callback.Detach(%s)\n", bridge.SinkParam)
	for _, p := range spec.Params {
		if p.Strategy == bridge.StrategyHandle {
			fmt.Fprintf(b, "defer runtime.KeepAlive(%s)\n", p.Param.Name)
		}
	}
	b.WriteString(spec.Call(rename) + "\n")
	b.WriteString("}); err != nil {\n")
	fmt.Fprintf(b, "callback.Detach(%s)\n", bridge.SinkParam)
	fmt.Fprintf(b, "var zero %s\nreturn zero, err\n}\n", resultType)
	b.WriteString("return stream, nil")
}

// Imports lists the packages an asynchronous body uses.
func Imports(spec *bridge.Spec) []string {
	out := []string{"context", "github.com/layola13/autozig/rt"}
	if spec.Return.Strategy == bridge.StrategyStream {
		out = append(out, CallbackImport)
	}
	if strings.Contains(spec.Body, "slices.Clone") {
		out = append(out, "slices")
	}
	if strings.Contains(spec.Body, "strings.Clone") {
		out = append(out, "strings")
	}
	return out
}
