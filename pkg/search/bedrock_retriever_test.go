package search_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/agenticaiops/incident-core/pkg/search"
)

type fakeInvoker struct {
	err   error
	calls int
}

func (f *fakeInvoker) InvokeModel(_ context.Context, _ *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{}, nil
}

var _ = Describe("BedrockRetriever", func() {
	It("returns no hits (and no error) on a successful call with no parsed response", func() {
		fake := &fakeInvoker{}
		retriever := search.NewBedrockRetriever(fake, "knowledge-base-model")

		hits, err := retriever.Retrieve(context.Background(), "pod crash looping", 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(hits).To(BeEmpty())
		Expect(fake.calls).To(Equal(1))
	})

	It("propagates an invocation error", func() {
		fake := &fakeInvoker{err: errors.New("throttled")}
		retriever := search.NewBedrockRetriever(fake, "knowledge-base-model")

		_, err := retriever.Retrieve(context.Background(), "x", 3)
		Expect(err).To(HaveOccurred())
	})

	It("opens the circuit breaker after repeated consecutive failures", func() {
		fake := &fakeInvoker{err: errors.New("unreachable")}
		retriever := search.NewBedrockRetriever(fake, "knowledge-base-model")

		for i := 0; i < 3; i++ {
			_, err := retriever.Retrieve(context.Background(), "x", 3)
			Expect(err).To(HaveOccurred())
		}
		Expect(fake.calls).To(Equal(3))

		// The breaker is now open; a further call is short-circuited
		// without reaching the fake invoker.
		_, err := retriever.Retrieve(context.Background(), "x", 3)
		Expect(err).To(HaveOccurred())
		Expect(fake.calls).To(Equal(3))
	})
})
