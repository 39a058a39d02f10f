// Package vars implements the layered variable store: an
// ordered stack of precedence bands over an arbitrary key space, plus a
// small Jinja2-compatible templating subset used to render task arguments.
package vars

// Precedence orders variable layers from lowest to highest priority. Ties
// within the same Precedence are broken by insertion order: a later Set at
// the same rung wins over an earlier one.
type Precedence int

const (
	CommandLineDefaults Precedence = iota
	RoleDefaults
	InventoryFileVars
	InventoryGroupAllVars
	InventoryGroupVars
	InventoryHostVars
	PlayVars
	PlayVarsPrompt
	PlayVarsFiles
	RoleVars
	BlockVars
	TaskVars
	IncludeVars
	SetFacts
	GatheredFacts
	RegisteredVars
	RoleParams
	IncludeParams
	ExtraVars
)

var precedenceNames = map[Precedence]string{
	CommandLineDefaults:   "CommandLineDefaults",
	RoleDefaults:          "RoleDefaults",
	InventoryFileVars:     "InventoryFileVars",
	InventoryGroupAllVars: "InventoryGroupAllVars",
	InventoryGroupVars:    "InventoryGroupVars",
	InventoryHostVars:     "InventoryHostVars",
	PlayVars:              "PlayVars",
	PlayVarsPrompt:        "PlayVarsPrompt",
	PlayVarsFiles:         "PlayVarsFiles",
	RoleVars:              "RoleVars",
	BlockVars:             "BlockVars",
	TaskVars:              "TaskVars",
	IncludeVars:           "IncludeVars",
	SetFacts:              "SetFacts",
	GatheredFacts:         "GatheredFacts",
	RegisteredVars:        "RegisteredVars",
	RoleParams:            "RoleParams",
	IncludeParams:         "IncludeParams",
	ExtraVars:             "ExtraVars",
}

func (p Precedence) String() string {
	if name, ok := precedenceNames[p]; ok {
		return name
	}
	return "Unknown"
}
