package modules

// RegisterBuiltins installs the built-in module set into r.
func RegisterBuiltins(r *Registry) {
	r.Register("command", func() Module { return &CommandModule{} })
	r.Register("shell", func() Module { return &CommandModule{UseShell: true} })
	r.Register("copy", func() Module { return &CopyModule{} })
	r.Register("template", func() Module { return &TemplateModule{} })
	r.Register("debug", func() Module { return &DebugModule{} })
	r.Register("stat", func() Module { return &StatModule{} })
	r.Register("file", func() Module { return &FileModule{} })
	r.Register("group", func() Module { return &GroupModule{} })
}
