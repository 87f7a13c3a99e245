package interp_test

import (
	"testing"

	"github.com/kristofer/lisb/pkg/interp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArithmeticAndDefine(t *testing.T) {
	in := interp.New()
	v, result, err := in.Interpret(`
		(define x 10)
		(+ x 5)
	`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(15), v.Num)
}

func TestFactorialViaNamedLetStyleDefine(t *testing.T) {
	in := interp.New()
	v, result, err := in.Interpret(`
		(define fact (lambda (n) (if (= n 0) 1 (* n (fact (- n 1))))))
		(fact 5)
	`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(120), v.Num)
}

func TestLetBindsLocalsAndReturnsBodyResult(t *testing.T) {
	in := interp.New()
	v, result, err := in.Interpret(`(let ((a 1) (b 2)) (+ a b))`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(3), v.Num)
}

func TestClosuresCaptureTheirDefiningEnvironment(t *testing.T) {
	in := interp.New()
	v, result, err := in.Interpret(`
		(define make-adder (lambda (n) (lambda (m) (+ n m))))
		(define add5 (make-adder 5))
		(add5 3)
	`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(8), v.Num)
}

func TestSetMutatesAnUpvalue(t *testing.T) {
	in := interp.New()
	v, result, err := in.Interpret(`
		(define make-counter (lambda ()
			(let ((n 0))
				(lambda () (begin (set! n (+ n 1)) n)))))
		(define counter (make-counter))
		(counter)
		(counter)
		(counter)
	`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(3), v.Num)
}

func TestCallCcEscapesEarly(t *testing.T) {
	in := interp.New()
	v, result, err := in.Interpret(`
		(define find (lambda (k)
			(call/cc (lambda (return)
				(begin
					(if (= k 2) (return 99) 0)
					(- 0 1))))))
		(find 2)
	`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(99), v.Num)
}

func TestCallCcInvokedFromNonTailPositionUnderStress(t *testing.T) {
	in := interp.New()
	in.Heap.SetStressMode(true)
	v, result, err := in.Interpret(`(+ 1 (call/cc (lambda (k) (k 10))))`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(11), v.Num)
}

func TestCallCcInvokedLaterViaStoredGlobalUnderStress(t *testing.T) {
	in := interp.New()
	in.Heap.SetStressMode(true)
	_, result, err := in.Interpret(`(define c #f)`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)

	v, result, err := in.Interpret(`(+ 1 (call/cc (lambda (k) (set! c k) 10)))`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(11), v.Num)

	v, result, err = in.Interpret(`(c 100)`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(101), v.Num)
}

func TestCallCcWithoutInvokingKReturnsNormally(t *testing.T) {
	in := interp.New()
	v, result, err := in.Interpret(`(+ 1 (call/cc (lambda (k) 41)))`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(42), v.Num)
}

func TestTailRecursiveLoopDoesNotOverflowFrames(t *testing.T) {
	in := interp.New()
	v, result, err := in.Interpret(`
		(define loop (lambda (n acc) (if (= n 0) acc (loop (- n 1) (+ acc 1)))))
		(loop 100000 0)
	`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(100000), v.Num)
}

func TestUndefinedVariableIsACompileError(t *testing.T) {
	in := interp.New()
	_, result, err := in.Interpret(`(+ 1 nope)`)
	assert.Equal(t, interp.CompileError, result)
	assert.Error(t, err)
}

func TestApplyingANonProcedureIsARuntimeError(t *testing.T) {
	in := interp.New()
	_, result, err := in.Interpret(`(define x 5) (x 1 2)`)
	assert.Equal(t, interp.RuntimeError, result)
	assert.Error(t, err)
}

func TestListPrimitives(t *testing.T) {
	in := interp.New()
	v, result, err := in.Interpret(`(car (cons 1 2))`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, float64(1), v.Num)

	v, result, err = in.Interpret(`(append (list 1 2) (list 3 4))`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, "(1 2 3 4)", v.String())
}

func TestDisplayWritesToInterpretersOutWriter(t *testing.T) {
	in := interp.New()
	var buf writerBuf
	in.VM.Out = &buf
	_, result, err := in.Interpret(`(displayln "hello")`)
	require.NoError(t, err)
	assert.Equal(t, interp.Ok, result)
	assert.Equal(t, "hello\n", buf.String())
}

type writerBuf struct{ data []byte }

func (w *writerBuf) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *writerBuf) String() string { return string(w.data) }
