// Package script runs operator-authored transform scripts in a sandboxed
// Lua interpreter. Scripts see the table, string, math and base libraries
// plus the lib helper table; no io, os, network or module loading.
package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/recmig/recmig/pkg/models"
)

// Runtime hosts one loaded script. Not safe for concurrent use; a mapping
// run owns its runtime.
type Runtime struct {
	state     *lua.LState
	module    *lua.LTable
	name      string
	reporter  ProgressSink
}

// ProgressSink receives script-emitted progress. Implemented by the engine
// reporter; a nil sink discards.
type ProgressSink interface {
	Log(msg string)
	Warn(msg string)
	Status(msg string)
	Progress(current, total int)
}

// Load parses and executes the script chunk, then validates that it
// returned a module table exposing declare and transform functions.
// Validation failures surface before any data is fetched.
func Load(name, source string, sink ProgressSink) (*Runtime, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, open := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(open.fn))
		L.Push(lua.LString(open.name))
		L.Call(1, 0)
	}
	// Base opens more than the sandbox allows; strip the escape hatches.
	for _, g := range []string{"dofile", "loadfile", "load", "loadstring", "print", "require", "collectgarbage"} {
		L.SetGlobal(g, lua.LNil)
	}

	rt := &Runtime{state: L, name: name, reporter: sink}
	L.SetGlobal("lib", rt.newLibTable())

	fn, err := L.LoadString(source)
	if err != nil {
		L.Close()
		return nil, scriptError(name, err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		L.Close()
		return nil, scriptError(name, err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	module, ok := ret.(*lua.LTable)
	if !ok {
		L.Close()
		return nil, &models.ScriptError{Script: name, Err: fmt.Errorf("script must return a table, got %s", ret.Type())}
	}
	for _, required := range []string{"declare", "transform"} {
		if _, ok := L.GetField(module, required).(*lua.LFunction); !ok {
			L.Close()
			return nil, &models.ScriptError{Script: name, Err: fmt.Errorf("module is missing function %q", required)}
		}
	}

	rt.module = module
	return rt, nil
}

func (r *Runtime) Close() {
	r.state.Close()
}

// Declare calls the script's declare() and decodes the returned data
// requirements.
func (r *Runtime) Declare() (models.Declaration, error) {
	fn := r.state.GetField(r.module, "declare").(*lua.LFunction)
	r.state.Push(fn)
	if err := r.state.PCall(0, 1, nil); err != nil {
		return models.Declaration{}, scriptError(r.name, err)
	}
	ret := r.state.Get(-1)
	r.state.Pop(1)

	table, ok := ret.(*lua.LTable)
	if !ok {
		return models.Declaration{}, &models.ScriptError{Script: r.name,
			Err: fmt.Errorf("declare must return a table, got %s", ret.Type())}
	}
	return decodeDeclaration(r.name, table)
}

// Transform calls the script's transform(source, target) with the fetched
// record sets and decodes the returned operation descriptors. Descriptors
// that fail validation come back as Error operations rather than aborting
// the run.
func (r *Runtime) Transform(source, target map[string][]map[string]interface{}) ([]models.Operation, error) {
	fn := r.state.GetField(r.module, "transform").(*lua.LFunction)
	r.state.Push(fn)
	r.state.Push(recordSetsToLua(r.state, source))
	r.state.Push(recordSetsToLua(r.state, target))
	if err := r.state.PCall(2, 1, nil); err != nil {
		return nil, scriptError(r.name, err)
	}
	ret := r.state.Get(-1)
	r.state.Pop(1)

	table, ok := ret.(*lua.LTable)
	if !ok {
		return nil, &models.ScriptError{Script: r.name,
			Err: fmt.Errorf("transform must return a table of operations, got %s", ret.Type())}
	}

	var ops []models.Operation
	var decodeErr error
	table.ForEach(func(_, v lua.LValue) {
		if decodeErr != nil {
			return
		}
		entry, ok := v.(*lua.LTable)
		if !ok {
			decodeErr = &models.ScriptError{Script: r.name,
				Err: fmt.Errorf("operation entries must be tables, got %s", v.Type())}
			return
		}
		ops = append(ops, decodeOperation(entry))
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return ops, nil
}

// decodeOperation turns one Lua operation descriptor into an Operation,
// downgrading invalid descriptors to Error operations.
func decodeOperation(entry *lua.LTable) models.Operation {
	var d models.Descriptor
	d.Entity = luaString(entry.RawGetString("entity"))
	d.Operation = luaString(entry.RawGetString("operation"))
	d.ID = luaString(entry.RawGetString("id"))
	d.Reason = luaString(entry.RawGetString("reason"))
	d.Error = luaString(entry.RawGetString("error"))
	if fields, ok := entry.RawGetString("fields").(*lua.LTable); ok {
		if m, ok := luaToGo(fields).(map[string]interface{}); ok {
			d.Fields = m
		}
	}

	op, err := models.FromDescriptor(d)
	if err != nil {
		return models.NewError(d.Entity, d.ID, err.Error())
	}
	return op
}

func decodeDeclaration(name string, table *lua.LTable) (models.Declaration, error) {
	decl := models.NewDeclaration()
	for _, side := range []struct {
		key  string
		dest map[string]models.FetchSpec
	}{
		{"source", decl.Source},
		{"target", decl.Target},
	} {
		sideTable, ok := table.RawGetString(side.key).(*lua.LTable)
		if !ok {
			continue
		}
		var err error
		sideTable.ForEach(func(k, v lua.LValue) {
			if err != nil {
				return
			}
			entity := luaString(k)
			specTable, ok := v.(*lua.LTable)
			if !ok {
				err = &models.ScriptError{Script: name,
					Err: fmt.Errorf("declare %s.%s must be a table", side.key, entity)}
				return
			}
			spec := models.FetchSpec{Entity: entity}
			spec.Filter = luaString(specTable.RawGetString("filter"))
			if top, ok := specTable.RawGetString("top").(lua.LNumber); ok {
				spec.Top = int(top)
			}
			if fields, ok := specTable.RawGetString("fields").(*lua.LTable); ok {
				fields.ForEach(func(_, f lua.LValue) {
					spec.Fields = append(spec.Fields, luaString(f))
				})
			}
			if expand, ok := specTable.RawGetString("expand").(*lua.LTable); ok {
				expand.ForEach(func(_, f lua.LValue) {
					spec.Expand = append(spec.Expand, luaString(f))
				})
			}
			side.dest[entity] = spec
		})
		if err != nil {
			return models.Declaration{}, err
		}
	}
	if len(decl.Source) == 0 {
		return models.Declaration{}, &models.ScriptError{Script: name,
			Err: fmt.Errorf("declare must request at least one source entity")}
	}
	return decl, nil
}

func scriptError(name string, err error) error {
	return &models.ScriptError{Script: name, Line: luaErrorLine(err), Err: err}
}

// luaErrorLine extracts the line number from a Lua error message of the
// form "<chunk>:<line>: message".
func luaErrorLine(err error) int {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return 0
	}
	parts := strings.SplitN(lua.LVAsString(apiErr.Object), ":", 3)
	if len(parts) >= 3 {
		if n, convErr := strconv.Atoi(parts[1]); convErr == nil {
			return n
		}
	}
	return 0
}
