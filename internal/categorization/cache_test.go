package categorization

import (
	"reflect"
	"sync"
	"testing"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

func TestCacheKey(t *testing.T) {
	tests := []struct {
		name string
		a, b *domain.Transaction
		same bool
	}{
		{
			name: "numbers are ignored",
			a:    newTx("COMPRA 123 PADARIA", "-5", domain.TransactionTypeDebit),
			b:    newTx("COMPRA 456 PADARIA", "-9", domain.TransactionTypeDebit),
			same: true,
		},
		{
			name: "case and punctuation are ignored",
			a:    newTx("Uber *Trip", "-5", domain.TransactionTypeDebit),
			b:    newTx("UBER TRIP.", "-5", domain.TransactionTypeDebit),
			same: true,
		},
		{
			name: "currency signs are ignored",
			a:    newTx("SPOTIFY € 9,99", "-9.99", domain.TransactionTypeDebit),
			b:    newTx("SPOTIFY 9,99", "-9.99", domain.TransactionTypeDebit),
			same: true,
		},
		{
			name: "math symbols are ignored",
			a:    newTx("PAGAMENTO + JUROS | PARCELA 2", "-100", domain.TransactionTypeDebit),
			b:    newTx("PAGAMENTO JUROS PARCELA 3", "-100", domain.TransactionTypeDebit),
			same: true,
		},
		{
			name: "whitespace is collapsed",
			a:    newTx("  PIX   RECEBIDO ", "5", domain.TransactionTypeCredit),
			b:    newTx("PIX RECEBIDO", "5", domain.TransactionTypeCredit),
			same: true,
		},
		{
			name: "type is part of the key",
			a:    newTx("PIX", "5", domain.TransactionTypeCredit),
			b:    newTx("PIX", "-5", domain.TransactionTypeDebit),
			same: false,
		},
		{
			name: "different words differ",
			a:    newTx("PADARIA", "-5", domain.TransactionTypeDebit),
			b:    newTx("FARMACIA", "-5", domain.TransactionTypeDebit),
			same: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka, kb := CacheKey(tt.a), CacheKey(tt.b)
			if (ka == kb) != tt.same {
				t.Errorf("CacheKey(%q)=%q, CacheKey(%q)=%q, same=%v", tt.a.Description, ka, tt.b.Description, kb, tt.same)
			}
		})
	}

	if got := CacheKey(newTx("COMPRA 123 PADARIA", "-5", domain.TransactionTypeDebit)); got != "debit:compra padaria" {
		t.Errorf("CacheKey = %q, want %q", got, "debit:compra padaria")
	}
	if got := CacheKey(newTx("NETFLIX $ 29,90", "-29.9", domain.TransactionTypeDebit)); got != "debit:netflix" {
		t.Errorf("CacheKey = %q, want %q", got, "debit:netflix")
	}
}

func TestCaches_CopyOnGetAndPut(t *testing.T) {
	lruCache, err := NewLRUCache(4)
	if err != nil {
		t.Fatalf("NewLRUCache failed: %v", err)
	}
	caches := map[string]Cache{
		"map": NewMapCache(),
		"lru": lruCache,
	}

	for name, c := range caches {
		t.Run(name, func(t *testing.T) {
			stored := []string{"padaria", "alimentação"}
			c.Put("k", Entry{Categories: stored, Confidence: 0.9})
			stored[0] = "changed after put"

			got, ok := c.Get("k")
			if !ok {
				t.Fatal("Expected cache hit")
			}
			if !reflect.DeepEqual(got.Categories, []string{"padaria", "alimentação"}) {
				t.Errorf("Get() = %q, cache aliased the input", got.Categories)
			}

			got.Categories[0] = "changed after get"
			again, _ := c.Get("k")
			if again.Categories[0] != "padaria" {
				t.Errorf("Get() = %q, cache aliased its output", again.Categories)
			}
			if c.Len() != 1 {
				t.Errorf("Len() = %d, want 1", c.Len())
			}
		})
	}
}

func TestLRUCache_Evicts(t *testing.T) {
	c, err := NewLRUCache(2)
	if err != nil {
		t.Fatalf("NewLRUCache failed: %v", err)
	}
	c.Put("a", Entry{Categories: []string{"a"}, Confidence: 0.9})
	c.Put("b", Entry{Categories: []string{"b"}, Confidence: 0.9})
	c.Get("a")
	c.Put("c", Entry{Categories: []string{"c"}, Confidence: 0.9})

	if _, ok := c.Get("b"); ok {
		t.Error("Expected least recently used entry to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("Expected recently used entry to survive")
	}
}

func TestNewCache(t *testing.T) {
	c, err := NewCache(0)
	if err != nil {
		t.Fatalf("NewCache(0) failed: %v", err)
	}
	if _, ok := c.(*MapCache); !ok {
		t.Errorf("NewCache(0) = %T, want *MapCache", c)
	}

	c, err = NewCache(10)
	if err != nil {
		t.Fatalf("NewCache(10) failed: %v", err)
	}
	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("NewCache(10) = %T, want *LRUCache", c)
	}
}

func TestMapCache_Concurrent(t *testing.T) {
	c := NewMapCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Put("k", Entry{Categories: []string{"x"}, Confidence: 0.9})
				c.Get("k")
			}
		}()
	}
	wg.Wait()
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
