package classfile_test

import (
	"errors"
	"testing"

	"github.com/chazu/flintdbg/classfile"
	"github.com/chazu/flintdbg/classfile/classfiletest"
)

func sampleClass() *classfiletest.Builder {
	b := classfiletest.New("com/acme/Main", "java/lang/Object").SourceFile("Main.java")
	b.Interface("java/lang/Runnable")
	b.Field(classfile.AccPrivate, "count", "I")
	b.Field(classfile.AccStatic|classfile.AccFinal, "LIMIT", "J").Constant(b.Long(1 << 40))
	b.Method(classfile.AccPublic, "run", "()V", 12).
		Line(0, 10).Line(4, 11).Line(9, 13).
		Local(0, 12, 0, "this", "Lcom/acme/Main;").
		Local(4, 8, 1, "i", "I").
		ExceptionHandlers(2)
	b.Method(classfile.AccNative, "poke", "(I)V", 0)
	b.Method(classfile.AccAbstract, "later", "()V", 0)
	b.UnknownAttribute()
	return b
}

// ---------------------------------------------------------------------------
// Header and members
// ---------------------------------------------------------------------------

func TestParseHeader(t *testing.T) {
	cf, err := classfile.Parse(sampleClass().Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cf.Magic != classfile.Magic {
		t.Errorf("Magic = %#x", cf.Magic)
	}
	if cf.MajorVersion != 52 {
		t.Errorf("MajorVersion = %d, want 52", cf.MajorVersion)
	}
	if cf.ThisClass != "com/acme/Main" {
		t.Errorf("ThisClass = %q", cf.ThisClass)
	}
	if cf.SuperClass != "java/lang/Object" {
		t.Errorf("SuperClass = %q", cf.SuperClass)
	}
	if cf.InterfacesCount != 1 {
		t.Errorf("InterfacesCount = %d, want 1", cf.InterfacesCount)
	}
	if cf.SourceFile != "com/acme/Main.java" {
		t.Errorf("SourceFile = %q, want com/acme/Main.java", cf.SourceFile)
	}
}

func TestParseRootClassHasNoSuper(t *testing.T) {
	b := classfiletest.New("Root", "").SourceFile("Root.java")
	cf, err := classfile.Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cf.SuperClass != "" {
		t.Errorf("SuperClass = %q, want empty", cf.SuperClass)
	}
	if cf.SourceFile != "Root.java" {
		t.Errorf("SourceFile = %q, want Root.java (default package)", cf.SourceFile)
	}
}

func TestParseExcludesNativeMethods(t *testing.T) {
	cf, err := classfile.Parse(sampleClass().Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cf.Methods) != 2 {
		t.Fatalf("got %d methods, want 2 (native dropped)", len(cf.Methods))
	}
	if cf.Method("poke", "(I)V") != nil {
		t.Error("native method should not be listed")
	}
	if m := cf.Method("later", "()V"); m == nil || m.Code != nil {
		t.Error("abstract method should be listed without code")
	}
}

func TestParseCodeAttribute(t *testing.T) {
	cf, err := classfile.Parse(sampleClass().Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	run := cf.Method("run", "()V")
	if run == nil || run.Code == nil {
		t.Fatal("run()V missing code")
	}
	if len(run.Code.Code) != 12 {
		t.Errorf("code length = %d, want 12", len(run.Code.Code))
	}
	if !run.Code.HasLineNumbers() || len(run.Code.LineNumberTable) != 3 {
		t.Fatalf("line table = %v", run.Code.LineNumberTable)
	}
	if got := run.Code.LineNumberTable[1]; got.StartPC != 4 || got.Line != 11 {
		t.Errorf("row 1 = %+v", got)
	}
	if len(run.Code.LocalVariableTable) != 2 {
		t.Fatalf("locals = %v", run.Code.LocalVariableTable)
	}

	live := run.Code.LocalsAt(2)
	if len(live) != 1 || live[0].Name != "this" {
		t.Errorf("LocalsAt(2) = %v, want [this]", live)
	}
	live = run.Code.LocalsAt(5)
	if len(live) != 2 || live[1].Name != "i" || live[1].Index != 1 {
		t.Errorf("LocalsAt(5) = %v", live)
	}
	if len(run.Code.LocalsAt(12)) != 0 {
		t.Error("no local should cover the end of code")
	}
}

func TestParseFieldConstantValue(t *testing.T) {
	cf, err := classfile.Parse(sampleClass().Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := cf.Field("LIMIT", "")
	if f == nil {
		t.Fatal("LIMIT not found")
	}
	long, ok := f.ConstantValue.(*classfile.ConstantLong)
	if !ok {
		t.Fatalf("ConstantValue = %T, want *ConstantLong", f.ConstantValue)
	}
	if long.Int() != 1<<40 {
		t.Errorf("value = %d", long.Int())
	}
	if !f.AccessFlags.IsStatic() {
		t.Error("LIMIT should be static")
	}
	if cf.Field("count", "J") != nil {
		t.Error("descriptor mismatch should not match")
	}
}

func TestParseInnerClasses(t *testing.T) {
	b := classfiletest.New("a/Outer", "java/lang/Object").SourceFile("Outer.java")
	b.Inner("a/Outer$1").Inner("a/Outer$Node").Inner("a/Other")
	cf, err := classfile.Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"a/Outer$1", "a/Outer$Node"}
	if len(cf.InnerClasses) != len(want) {
		t.Fatalf("InnerClasses = %v, want %v", cf.InnerClasses, want)
	}
	for i := range want {
		if cf.InnerClasses[i] != want[i] {
			t.Errorf("InnerClasses[%d] = %q, want %q", i, cf.InnerClasses[i], want[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

func TestWideConstantsOccupyTwoSlots(t *testing.T) {
	b := classfiletest.New("W", "").SourceFile("W.java")
	longIdx := b.Long(-5)
	doubleIdx := b.Double(2.5)
	after := b.Utf8("after")

	if doubleIdx != longIdx+2 || after != doubleIdx+2 {
		t.Fatalf("builder indices %d %d %d not spaced by 2", longIdx, doubleIdx, after)
	}

	cf, err := classfile.Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	e, err := cf.Pool.Entry(longIdx)
	if err != nil {
		t.Fatalf("Entry(%d): %v", longIdx, err)
	}
	if l, ok := e.(*classfile.ConstantLong); !ok || l.Int() != -5 {
		t.Errorf("Entry(%d) = %#v", longIdx, e)
	}

	filler, err := cf.Pool.Entry(longIdx + 1)
	if err != nil {
		t.Fatalf("Entry(%d): %v", longIdx+1, err)
	}
	if _, ok := filler.(*classfile.ConstantPlaceholder); !ok {
		t.Errorf("slot after long = %T, want placeholder", filler)
	}
	if _, err := cf.Pool.Utf8(longIdx + 1); err == nil {
		t.Error("placeholder slot should not resolve as a reference")
	}

	e, _ = cf.Pool.Entry(doubleIdx)
	if d, ok := e.(*classfile.ConstantDouble); !ok || d.Float() != 2.5 {
		t.Errorf("Entry(%d) = %#v", doubleIdx, e)
	}
	if s, err := cf.Pool.Utf8(after); err != nil || s != "after" {
		t.Errorf("Utf8(%d) = %q, %v", after, s, err)
	}
}

func TestPoolEntryOutOfRange(t *testing.T) {
	cf, err := classfile.Parse(classfiletest.New("X", "").SourceFile("X.java").Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := cf.Pool.Entry(0); err == nil {
		t.Error("index 0 should be invalid")
	}
	if _, err := cf.Pool.Entry(uint16(cf.Pool.Len())); err == nil {
		t.Error("index past the end should be invalid")
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestParseErrors(t *testing.T) {
	unknownTag := classfiletest.New("U", "").SourceFile("U.java")
	unknownTag.Raw([]byte{2, 0, 0})

	noSource := classfiletest.New("N", "").OmitSourceFile()

	good := sampleClass().Bytes()
	badMagic := append([]byte{0xDE, 0xAD, 0xBE, 0xEF}, good[4:]...)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"unknown constant tag", unknownTag.Bytes(), classfile.ErrUnknownConstantTag},
		{"missing SourceFile", noSource.Bytes(), classfile.ErrNoSourceFile},
		{"bad magic", badMagic, classfile.ErrBadMagic},
		{"truncated", good[:len(good)/2], classfile.ErrTruncated},
		{"empty", nil, classfile.ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cf, err := classfile.Parse(tt.data)
			if err == nil {
				t.Fatalf("Parse succeeded: %+v", cf)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			var pe *classfile.ParseError
			if !errors.As(err, &pe) {
				t.Errorf("err %T is not a *ParseError", err)
			}
		})
	}
}

func TestParseIsDeterministic(t *testing.T) {
	data := sampleClass().Bytes()
	first, err := classfile.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for i := 0; i < 5; i++ {
		cf, err := classfile.Parse(data)
		if err != nil {
			t.Fatalf("Parse #%d: %v", i, err)
		}
		if cf.ThisClass != first.ThisClass || cf.SuperClass != first.SuperClass || cf.SourceFile != first.SourceFile {
			t.Fatalf("parse #%d produced (%s, %s, %s), want (%s, %s, %s)", i,
				cf.ThisClass, cf.SuperClass, cf.SourceFile,
				first.ThisClass, first.SuperClass, first.SourceFile)
		}
	}
}
