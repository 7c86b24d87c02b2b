package filter

import "fmt"

// Parse builds a filter tree from a JSON-compatible node. Leaf nodes look
// like {"op": "eq", "field": "author.name", "value": "x"}; logical nodes
// carry a "filters" list ({"op": "not", ...} takes a single "filter").
func Parse(node map[string]any) (Filter, error) {
	op, ok := node["op"].(string)
	if !ok {
		return nil, NewFilterError("parser", "", "filter node requires a string 'op'")
	}

	switch op {
	case "and", "or":
		children, err := parseChildren(node)
		if err != nil {
			return nil, err
		}
		if op == "and" {
			return NewAndFilter(children...), nil
		}
		return NewOrFilter(children...), nil

	case "not":
		childNode, ok := node["filter"].(map[string]any)
		if !ok {
			return nil, NewFilterError("parser", "", "not requires a 'filter' node")
		}
		child, err := Parse(childNode)
		if err != nil {
			return nil, err
		}
		return NewNotFilter(child), nil

	case "exists":
		field, err := parseField(node, op)
		if err != nil {
			return nil, err
		}
		return NewExistsFilter(field), nil

	case "eq", "ne":
		field, err := parseField(node, op)
		if err != nil {
			return nil, err
		}
		value, exists := node["value"]
		if !exists {
			return nil, NewFilterError("parser", field, op+" requires a 'value'")
		}
		if op == "eq" {
			return NewEqualityFilter(field, value), nil
		}
		return NewNotEqualFilter(field, value), nil

	case "in", "nin":
		field, err := parseField(node, op)
		if err != nil {
			return nil, err
		}
		values, ok := node["value"].([]any)
		if !ok {
			return nil, NewFilterError("parser", field, op+" requires a list 'value'")
		}
		if op == "in" {
			return NewInFilter(field, values), nil
		}
		return NewNotInFilter(field, values), nil

	case "lt", "lte", "gt", "gte":
		field, err := parseField(node, op)
		if err != nil {
			return nil, err
		}
		value, exists := node["value"]
		if !exists {
			return nil, NewFilterError("parser", field, op+" requires a 'value'")
		}
		return NewRangeFilter(field, rangeOpFor(op), value), nil

	default:
		return nil, NewFilterError("parser", "", fmt.Sprintf("unknown operator %q", op))
	}
}

func parseChildren(node map[string]any) ([]Filter, error) {
	raw, ok := node["filters"].([]any)
	if !ok || len(raw) == 0 {
		return nil, NewFilterError("parser", "", "logical node requires a non-empty 'filters' list")
	}

	children := make([]Filter, 0, len(raw))
	for _, entry := range raw {
		childNode, ok := entry.(map[string]any)
		if !ok {
			return nil, NewFilterError("parser", "", "'filters' entries must be filter nodes")
		}
		child, err := Parse(childNode)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func parseField(node map[string]any, op string) (string, error) {
	field, ok := node["field"].(string)
	if !ok || field == "" {
		return "", NewFilterError("parser", "", op+" requires a non-empty 'field'")
	}
	return field, nil
}

func rangeOpFor(op string) RangeOp {
	switch op {
	case "lt":
		return LessThan
	case "lte":
		return LessOrEqual
	case "gt":
		return GreaterThan
	default:
		return GreaterOrEqual
	}
}
