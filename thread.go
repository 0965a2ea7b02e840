// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// objectClassName is the stubbed host class: calls resolved against it
// are swallowed, which covers the implicit super-constructor call the
// compiler emits for every <init>.
const objectClassName = "java/lang/Object"

// Errors
var (
	// ErrClassNotFound is returned when a class is not present in the
	// method area.
	ErrClassNotFound = errors.New("class not present in the method area")

	// ErrMethodNotFound is returned when no method of the requested
	// name exists on the class.
	ErrMethodNotFound = errors.New("method not found")

	// ErrUnknownOpcode is returned when the dispatch loop meets an
	// opcode outside the implemented set.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrCallDepth is returned when an invocation would exceed the
	// configured frame stack depth.
	ErrCallDepth = errors.New("frame stack depth limit exceeded")

	// ErrNullReference is returned on a field or array access through
	// the null reference.
	ErrNullReference = errors.New("null reference dereference")
)

// Thread is a single thread of execution: a stack of frames plus shared
// handles on the method area and the heap. Execution is synchronous; a
// callee's heap effects are fully applied before the caller's next
// instruction runs.
type Thread struct {
	stack      []*Frame
	methodArea *MethodArea
	heap       *Heap
	maxDepth   uint32
	logger     *log.Helper
}

// NewThread builds a thread over shared method area and heap handles.
func NewThread(ma *MethodArea, heap *Heap, maxDepth uint32, logger *log.Helper) *Thread {
	if maxDepth == 0 {
		maxDepth = MaxDefaultCallDepth
	}
	return &Thread{methodArea: ma, heap: heap, maxDepth: maxDepth, logger: logger}
}

// ExecuteMethod looks the method up, builds its first frame from the
// caller-supplied arguments and runs the dispatch loop until the
// outermost frame returns.
func (t *Thread) ExecuteMethod(className, methodName string, args []Value) (Value, error) {
	t.logger.Debugf("executing %s.%s with %v", className, methodName, args)

	// A run that aborted mid-method leaves its frames behind; every
	// execution starts from a clean stack.
	t.stack = t.stack[:0]

	frame, err := t.buildFrame(className, methodName, args)
	if err != nil {
		return Empty, err
	}
	if err := t.pushFrame(frame); err != nil {
		return Empty, err
	}
	return t.run()
}

// buildFrame resolves class, method and Code attribute, then lays the
// arguments into the local variable array. Every long or double
// argument is followed by an Empty padding slot so later arguments land
// at the indices the compiler assumed.
func (t *Thread) buildFrame(className, methodName string, args []Value) (*Frame, error) {
	class, err := t.methodArea.Lookup(className)
	if err != nil {
		return nil, err
	}

	method, ok := class.Method(methodName)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, className, methodName)
	}

	code, err := method.Code()
	if err != nil {
		return nil, err
	}

	locals := make([]Value, 0, int(code.MaxLocals))
	for _, a := range args {
		locals = append(locals, a)
		if a.IsWide() {
			locals = append(locals, Empty)
		}
	}
	for len(locals) < int(code.MaxLocals) {
		locals = append(locals, Empty)
	}

	return NewFrame(class, code.Bytecode, locals), nil
}

func (t *Thread) pushFrame(f *Frame) error {
	if uint32(len(t.stack)) >= t.maxDepth {
		return fmt.Errorf("%w: %d frames", ErrCallDepth, len(t.stack))
	}
	t.stack = append(t.stack, f)
	return nil
}

// popFrame discards the top frame and hands the result to the caller's
// operand stack. It reports whether the thread stack is now empty, in
// which case result belongs to the caller of ExecuteMethod.
func (t *Thread) popFrame(result Value) bool {
	t.stack = t.stack[:len(t.stack)-1]
	if len(t.stack) == 0 {
		return true
	}
	t.stack[len(t.stack)-1].PushStack(result)
	return false
}

func (t *Thread) top() *Frame {
	return t.stack[len(t.stack)-1]
}

// operandU1 reads the single-byte immediate of the instruction at ip.
func operandU1(f *Frame) (byte, error) {
	if f.ip+1 >= len(f.code) {
		return 0, fmt.Errorf("%w: operand at offset %d", ErrTruncated, f.ip+1)
	}
	return f.code[f.ip+1], nil
}

// operandU2 reads the two-byte big-endian immediate of the instruction
// at ip.
func operandU2(f *Frame) (uint16, error) {
	if f.ip+2 >= len(f.code) {
		return 0, fmt.Errorf("%w: operand at offset %d", ErrTruncated, f.ip+1)
	}
	return binary.BigEndian.Uint16(f.code[f.ip+1 : f.ip+3]), nil
}

// run is the fetch-decode-execute loop. Invocations push a frame and
// continue; returns pop one and push the result onto the new top, so
// the interpreter never recurses and stack usage stays bounded by
// maxDepth.
func (t *Thread) run() (Value, error) {
	for {
		f := t.top()
		if f.ip < 0 || f.ip >= len(f.code) {
			return Empty, fmt.Errorf("instruction pointer %d outside code of length %d",
				f.ip, len(f.code))
		}

		op := f.code[f.ip]
		t.logger.Debugf("ip=%d op=%s stack depth=%d", f.ip, OpcodeName(op), f.StackDepth())

		switch op {

		// Constants.
		case OpNop:
			f.IncIP(1)
		case OpAconstNull:
			f.PushStack(Null)
			f.IncIP(1)
		case OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5:
			f.PushStack(IntValue(int32(op) - int32(OpIconst0)))
			f.IncIP(1)
		case OpLconst0, OpLconst1:
			f.PushStack(LongValue(int64(op - OpLconst0)))
			f.IncIP(1)
		case OpFconst0, OpFconst1, OpFconst2:
			f.PushStack(FloatValue(float32(op - OpFconst0)))
			f.IncIP(1)
		case OpDconst0, OpDconst1:
			f.PushStack(DoubleValue(float64(op - OpDconst0)))
			f.IncIP(1)
		case OpBipush:
			b, err := operandU1(f)
			if err != nil {
				return Empty, err
			}
			f.PushStack(IntValue(int32(int8(b))))
			f.IncIP(2)
		case OpSipush:
			s, err := operandU2(f)
			if err != nil {
				return Empty, err
			}
			f.PushStack(IntValue(int32(int16(s))))
			f.IncIP(3)
		case OpLdc:
			idx, err := operandU1(f)
			if err != nil {
				return Empty, err
			}
			c, err := f.class.ConstantPool.Resolve(uint16(idx))
			if err != nil {
				return Empty, err
			}
			switch c.Tag {
			case TagInteger:
				f.PushStack(IntValue(c.Integer))
			case TagFloat:
				f.PushStack(FloatValue(c.Float))
			default:
				return Empty, fmt.Errorf("%w: ldc of %v at index %d",
					ErrBadPoolEntry, c.Tag, idx)
			}
			f.IncIP(2)

		// Loads and stores through an immediate index.
		case OpIload, OpLload, OpFload, OpDload, OpAload:
			idx, err := operandU1(f)
			if err != nil {
				return Empty, err
			}
			v, err := f.Local(int(idx))
			if err != nil {
				return Empty, err
			}
			f.PushStack(v)
			f.IncIP(2)
		case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
			idx, err := operandU1(f)
			if err != nil {
				return Empty, err
			}
			v, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			if err := f.SetLocal(int(idx), v); err != nil {
				return Empty, err
			}
			f.IncIP(2)

		// Loads and stores with the index baked into the opcode.
		case OpIload0, OpIload1, OpIload2, OpIload3:
			if err := t.loadLocal(f, int(op-OpIload0)); err != nil {
				return Empty, err
			}
		case OpLload0, OpLload1, OpLload2, OpLload3:
			if err := t.loadLocal(f, int(op-OpLload0)); err != nil {
				return Empty, err
			}
		case OpFload0, OpFload1, OpFload2, OpFload3:
			if err := t.loadLocal(f, int(op-OpFload0)); err != nil {
				return Empty, err
			}
		case OpDload0, OpDload1, OpDload2, OpDload3:
			if err := t.loadLocal(f, int(op-OpDload0)); err != nil {
				return Empty, err
			}
		case OpAload0, OpAload1, OpAload2, OpAload3:
			if err := t.loadLocal(f, int(op-OpAload0)); err != nil {
				return Empty, err
			}
		case OpIstore0, OpIstore1, OpIstore2, OpIstore3:
			if err := t.storeLocal(f, int(op-OpIstore0)); err != nil {
				return Empty, err
			}
		case OpLstore0, OpLstore1, OpLstore2, OpLstore3:
			if err := t.storeLocal(f, int(op-OpLstore0)); err != nil {
				return Empty, err
			}
		case OpFstore0, OpFstore1, OpFstore2, OpFstore3:
			if err := t.storeLocal(f, int(op-OpFstore0)); err != nil {
				return Empty, err
			}
		case OpDstore0, OpDstore1, OpDstore2, OpDstore3:
			if err := t.storeLocal(f, int(op-OpDstore0)); err != nil {
				return Empty, err
			}
		case OpAstore0, OpAstore1, OpAstore2, OpAstore3:
			if err := t.storeLocal(f, int(op-OpAstore0)); err != nil {
				return Empty, err
			}

		// Operand stack shuffling.
		case OpPop:
			if _, err := f.PopStack(); err != nil {
				return Empty, err
			}
			f.IncIP(1)
		case OpDup:
			v, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			f.PushStack(v)
			f.PushStack(v)
			f.IncIP(1)
		case OpSwap:
			a, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			b, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			f.PushStack(a)
			f.PushStack(b)
			f.IncIP(1)

		// Arithmetic.
		case OpIadd, OpLadd, OpFadd, OpDadd:
			b, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			a, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			sum, err := a.Add(b)
			if err != nil {
				return Empty, err
			}
			f.PushStack(sum)
			f.IncIP(1)
		case OpIsub, OpLsub, OpFsub, OpDsub:
			b, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			a, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			diff, err := a.Sub(b)
			if err != nil {
				return Empty, err
			}
			f.PushStack(diff)
			f.IncIP(1)
		case OpIneg, OpLneg, OpFneg, OpDneg:
			v, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			neg, err := v.Neg()
			if err != nil {
				return Empty, err
			}
			f.PushStack(neg)
			f.IncIP(1)
		case OpIinc:
			idx, err := operandU1(f)
			if err != nil {
				return Empty, err
			}
			if f.ip+2 >= len(f.code) {
				return Empty, fmt.Errorf("%w: iinc operand at offset %d", ErrTruncated, f.ip+2)
			}
			delta := int32(int8(f.code[f.ip+2]))
			v, err := f.Local(int(idx))
			if err != nil {
				return Empty, err
			}
			if v.Kind != KindInt {
				return Empty, fmt.Errorf("%w: iinc of %v at local %d", ErrValueKind, v.Kind, idx)
			}
			if err := f.SetLocal(int(idx), IntValue(v.Int()+delta)); err != nil {
				return Empty, err
			}
			f.IncIP(3)

		// Arrays.
		case OpNewarray:
			if _, err := operandU1(f); err != nil { // atype, unused beyond width
				return Empty, err
			}
			count, err := f.PopInt()
			if err != nil {
				return Empty, err
			}
			arr, err := NewArray(count)
			if err != nil {
				return Empty, err
			}
			ref := t.heap.AllocateArray(arr)
			f.PushStack(RefValue(ref))
			f.IncIP(2)
		case OpIaload:
			idx, err := f.PopInt()
			if err != nil {
				return Empty, err
			}
			ref, err := f.PopRef()
			if err != nil {
				return Empty, err
			}
			if ref == 0 {
				return Empty, fmt.Errorf("%w: iaload", ErrNullReference)
			}
			v, err := t.heap.Array(ref).Get(idx)
			if err != nil {
				return Empty, err
			}
			if v.Kind != KindInt {
				return Empty, fmt.Errorf("%w: iaload read %v at index %d",
					ErrValueKind, v.Kind, idx)
			}
			f.PushStack(v)
			f.IncIP(1)
		case OpIastore:
			v, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			if v.Kind != KindInt {
				return Empty, fmt.Errorf("%w: iastore of %v", ErrValueKind, v.Kind)
			}
			idx, err := f.PopInt()
			if err != nil {
				return Empty, err
			}
			ref, err := f.PopRef()
			if err != nil {
				return Empty, err
			}
			if ref == 0 {
				return Empty, fmt.Errorf("%w: iastore", ErrNullReference)
			}
			if err := t.heap.Array(ref).Set(idx, v); err != nil {
				return Empty, err
			}
			f.IncIP(1)
		case OpArraylength:
			ref, err := f.PopRef()
			if err != nil {
				return Empty, err
			}
			if ref == 0 {
				return Empty, fmt.Errorf("%w: arraylength", ErrNullReference)
			}
			f.PushStack(IntValue(t.heap.Array(ref).Len()))
			f.IncIP(1)

		// Objects. Field storage is keyed by the constant pool index of
		// the member reference, so no per-class field schema is needed
		// and new can tie the instance to the current frame's class.
		case OpNew:
			if _, err := operandU2(f); err != nil {
				return Empty, err
			}
			ref := t.heap.AllocateObject(NewObject(f.class))
			f.PushStack(RefValue(ref))
			f.IncIP(3)
		case OpGetfield:
			idx, err := operandU2(f)
			if err != nil {
				return Empty, err
			}
			ref, err := f.PopRef()
			if err != nil {
				return Empty, err
			}
			if ref == 0 {
				return Empty, fmt.Errorf("%w: getfield at index %d", ErrNullReference, idx)
			}
			v, ok := t.heap.Object(ref).Field(idx)
			if !ok {
				return Empty, fmt.Errorf("field at constant pool index %d never written", idx)
			}
			f.PushStack(v)
			f.IncIP(3)
		case OpPutfield:
			idx, err := operandU2(f)
			if err != nil {
				return Empty, err
			}
			v, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			ref, err := f.PopRef()
			if err != nil {
				return Empty, err
			}
			if ref == 0 {
				return Empty, fmt.Errorf("%w: putfield at index %d", ErrNullReference, idx)
			}
			t.heap.Object(ref).SetField(idx, v)
			f.IncIP(3)

		// Invocations.
		case OpInvokestatic, OpInvokespecial, OpInvokevirtual:
			if err := t.invoke(f, op); err != nil {
				return Empty, err
			}

		// Returns.
		case OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn:
			v, err := f.PopStack()
			if err != nil {
				return Empty, err
			}
			if done := t.popFrame(v); done {
				return v, nil
			}
		case OpReturn:
			if done := t.popFrame(Empty); done {
				return Empty, nil
			}

		// Branches. The two-byte immediate is an absolute code offset.
		case OpGoto:
			target, err := operandU2(f)
			if err != nil {
				return Empty, err
			}
			f.SetIP(int(target))
		case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle:
			v, err := f.PopInt()
			if err != nil {
				return Empty, err
			}
			var cond bool
			switch op {
			case OpIfeq:
				cond = v == 0
			case OpIfne:
				cond = v != 0
			case OpIflt:
				cond = v < 0
			case OpIfge:
				cond = v >= 0
			case OpIfgt:
				cond = v > 0
			case OpIfle:
				cond = v <= 0
			}
			if err := t.branch(f, cond); err != nil {
				return Empty, err
			}
		case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple:
			val2, err := f.PopInt()
			if err != nil {
				return Empty, err
			}
			val1, err := f.PopInt()
			if err != nil {
				return Empty, err
			}
			var cond bool
			switch op {
			case OpIfIcmpeq:
				cond = val1 == val2
			case OpIfIcmpne:
				cond = val1 != val2
			case OpIfIcmplt:
				cond = val1 < val2
			case OpIfIcmpge:
				cond = val1 >= val2
			case OpIfIcmpgt:
				cond = val1 > val2
			case OpIfIcmple:
				cond = val1 <= val2
			}
			if err := t.branch(f, cond); err != nil {
				return Empty, err
			}
		case OpIfAcmpeq, OpIfAcmpne:
			ref2, err := f.PopRef()
			if err != nil {
				return Empty, err
			}
			ref1, err := f.PopRef()
			if err != nil {
				return Empty, err
			}
			cond := ref1 == ref2
			if op == OpIfAcmpne {
				cond = !cond
			}
			if err := t.branch(f, cond); err != nil {
				return Empty, err
			}
		case OpIfnull, OpIfnonnull:
			ref, err := f.PopRef()
			if err != nil {
				return Empty, err
			}
			cond := ref == 0
			if op == OpIfnonnull {
				cond = !cond
			}
			if err := t.branch(f, cond); err != nil {
				return Empty, err
			}

		default:
			return Empty, fmt.Errorf("%w: %s at offset %d", ErrUnknownOpcode,
				OpcodeName(op), f.ip)
		}
	}
}

func (t *Thread) loadLocal(f *Frame, index int) error {
	v, err := f.Local(index)
	if err != nil {
		return err
	}
	f.PushStack(v)
	f.IncIP(1)
	return nil
}

func (t *Thread) storeLocal(f *Frame, index int) error {
	v, err := f.PopStack()
	if err != nil {
		return err
	}
	if err := f.SetLocal(index, v); err != nil {
		return err
	}
	f.IncIP(1)
	return nil
}

// branch moves ip to the absolute target held in the two immediate
// bytes when cond holds, or past the instruction when it does not.
func (t *Thread) branch(f *Frame, cond bool) error {
	target, err := operandU2(f)
	if err != nil {
		return err
	}
	if cond {
		f.SetIP(int(target))
	} else {
		f.IncIP(3)
	}
	return nil
}

// invoke resolves the member reference, pops the arguments off the
// caller's operand stack preserving their order, and pushes the callee
// frame. invokespecial and invokevirtual carry one extra leading
// receiver argument; calls into java/lang/Object are swallowed after
// their arguments are dropped.
func (t *Thread) invoke(f *Frame, op byte) error {
	idx, err := operandU2(f)
	if err != nil {
		return err
	}
	member, err := f.class.ConstantPool.ResolveMemberRef(idx)
	if err != nil {
		return err
	}

	nargs := descriptorArgCount(member.Descriptor)
	if op != OpInvokestatic {
		nargs++ // the receiver reference
	}

	// The caller resumes past the 3-byte instruction once the callee
	// returns; with the iterative loop that means bumping ip now.
	f.IncIP(3)

	// First popped becomes last local.
	args := make([]Value, nargs)
	for i := nargs - 1; i >= 0; i-- {
		v, err := f.PopStack()
		if err != nil {
			return err
		}
		args[i] = v
	}

	if member.Class == objectClassName {
		t.logger.Debugf("skipping call into %s.%s", member.Class, member.Name)
		return nil
	}

	callee, err := t.buildFrame(member.Class, member.Name, args)
	if err != nil {
		return err
	}
	return t.pushFrame(callee)
}

// descriptorArgCount counts the characters between the parentheses of a
// method descriptor. Each character counts as one argument, which is
// only correct for primitive parameters; reference and array types
// would need proper tokenising.
func descriptorArgCount(desc string) int {
	n := 0
	for i := 1; i < len(desc); i++ {
		if desc[i] == ')' {
			break
		}
		n++
	}
	return n
}
